package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

const parquetReadBatch = 256

// ParquetSource streams rows of a flat parquet file, one row group at a time.
type ParquetSource struct {
	path    string
	file    *os.File
	pf      *parquet.File
	columns []string
	kinds   []leafKind
	cleanup func() error
}

type leafKind int

const (
	leafPlain leafKind = iota
	leafString
	leafDate
	leafTimestampMillis
	leafTimestampMicros
	leafTimestampNanos
)

// OpenParquet opens a local parquet file and reads its footer.
func OpenParquet(path string) (*ParquetSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to get file stats: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	schema := pf.Schema()
	paths := schema.Columns()
	columns := make([]string, len(paths))
	kinds := make([]leafKind, len(paths))
	for i, p := range paths {
		columns[i] = strings.Join(p, ".")
		if leaf, ok := schema.Lookup(p...); ok {
			kinds[i] = classifyLeaf(leaf.Node)
		}
	}

	return &ParquetSource{
		path:    path,
		file:    f,
		pf:      pf,
		columns: columns,
		kinds:   kinds,
	}, nil
}

func classifyLeaf(node parquet.Node) leafKind {
	typ := node.Type()
	lt := typ.LogicalType()
	switch {
	case lt != nil && lt.Date != nil:
		return leafDate
	case lt != nil && lt.Timestamp != nil:
		switch unit := lt.Timestamp.Unit; {
		case unit.Nanos != nil:
			return leafTimestampNanos
		case unit.Micros != nil:
			return leafTimestampMicros
		default:
			return leafTimestampMillis
		}
	}
	switch typ.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return leafString
	}
	return leafPlain
}

func (p *ParquetSource) Name() string { return p.path }

func (p *ParquetSource) Columns(context.Context) ([]string, error) {
	return p.columns, nil
}

func (p *ParquetSource) Scan(ctx context.Context, fn ScanFunc) error {
	var index int64
	buf := make([]parquet.Row, parquetReadBatch)

	for _, rg := range p.pf.RowGroups() {
		rows := rg.Rows()
		for {
			if err := ctx.Err(); err != nil {
				rows.Close()
				return err
			}
			n, err := rows.ReadRows(buf)
			for _, raw := range buf[:n] {
				if ferr := fn(index, p.convertRow(raw)); ferr != nil {
					rows.Close()
					return ferr
				}
				index++
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return fmt.Errorf("read row group of %s: %w", p.path, err)
			}
			if n == 0 {
				break
			}
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("close row group of %s: %w", p.path, err)
		}
	}
	return nil
}

func (p *ParquetSource) convertRow(raw parquet.Row) Row {
	out := make(Row, len(p.columns))
	for _, v := range raw {
		col := v.Column()
		if col < 0 || col >= len(out) || v.IsNull() {
			continue
		}
		out[col] = p.convertValue(v, p.kinds[col])
	}
	return out
}

func (p *ParquetSource) convertValue(v parquet.Value, kind leafKind) any {
	switch kind {
	case leafDate:
		return time.Unix(int64(v.Int32())*86400, 0).UTC()
	case leafTimestampMillis:
		return time.UnixMilli(v.Int64()).UTC()
	case leafTimestampMicros:
		return time.UnixMicro(v.Int64()).UTC()
	case leafTimestampNanos:
		return time.Unix(0, v.Int64()).UTC()
	case leafString:
		return string(v.ByteArray())
	}

	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	}
	return nil
}

func (p *ParquetSource) Close() error {
	err := p.file.Close()
	if p.cleanup != nil {
		if cerr := p.cleanup(); err == nil {
			err = cerr
		}
	}
	return err
}
