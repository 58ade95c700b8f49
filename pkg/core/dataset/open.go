package dataset

import (
	"context"
	"fmt"
)

// SourceConfig selects and configures the dataset origin.
type SourceConfig struct {
	Type string    `yaml:"type"` // parquet | s3 | sql
	Path string    `yaml:"path"`
	S3   S3Config  `yaml:"s3"`
	SQL  SQLConfig `yaml:"sql"`
}

// SQLConfig describes a SQL-backed dataset.
type SQLConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres | mysql | mssql
	DSN    string `yaml:"dsn"`
	Query  string `yaml:"query"`
}

// OpenSource builds the Source named by cfg.Type. Failures are wrapped with
// ErrSourceOpen.
func OpenSource(ctx context.Context, cfg SourceConfig) (Source, error) {
	var (
		src Source
		err error
	)
	switch cfg.Type {
	case "", "parquet":
		src, err = OpenParquet(cfg.Path)
	case "s3":
		client, cerr := NewS3Client(ctx, cfg.S3)
		if cerr != nil {
			err = cerr
			break
		}
		src, err = OpenS3Parquet(ctx, client, cfg.S3.Bucket, cfg.S3.Key)
	case "sql":
		src, err = OpenSQL(ctx, cfg.SQL.Driver, cfg.SQL.DSN, cfg.SQL.Query)
	default:
		err = fmt.Errorf("unknown source type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceOpen, err)
	}
	return src, nil
}
