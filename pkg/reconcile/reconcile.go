// Package reconcile decides, once per widget message, whether the message is
// new user intent or an echo of the last push, and runs the recompute cycle
// for new intent.
//
// Lifecycle of one message:
//
//	AwaitingInteraction → Evaluating → Adopted → Recompute → Pushed → AwaitingInteraction
//	                                 ↘ RejectedAsEcho → AwaitingInteraction
//	                                 ↘ Discarded → AwaitingInteraction
package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-explorer/pkg/core/dataset"
	"github.com/ruslano69/tdtp-explorer/pkg/core/paging"
	"github.com/ruslano69/tdtp-explorer/pkg/core/query"
	"github.com/ruslano69/tdtp-explorer/pkg/core/state"
	"github.com/ruslano69/tdtp-explorer/pkg/metadata"
	"github.com/ruslano69/tdtp-explorer/pkg/render"
)

// Phase is the reconciler's position in the cycle state machine.
type Phase int

const (
	AwaitingInteraction Phase = iota
	Evaluating
	Adopted
	Recompute
	Pushed
	RejectedAsEcho
	Discarded
)

var phaseNames = [...]string{
	AwaitingInteraction: "awaiting_interaction",
	Evaluating:          "evaluating",
	Adopted:             "adopted",
	Recompute:           "recompute",
	Pushed:              "pushed",
	RejectedAsEcho:      "rejected_as_echo",
	Discarded:           "discarded",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Decision classifies one evaluated message.
type Decision string

const (
	DecisionInitial   Decision = "initial"
	DecisionAdopted   Decision = "adopted"
	DecisionEcho      Decision = "echo"
	DecisionDiscarded Decision = "discarded"
)

// Payload is pushed to the widget after every recompute.
type Payload struct {
	CurrentPage            int                    `json:"current_page"`
	PageSize               int                    `json:"page_size"`
	TotalRows              int64                  `json:"total_rows"`
	TotalPages             int                    `json:"total_pages"`
	Filters                state.FilterSpec       `json:"filters"`
	SortOrder              state.SortOrder        `json:"sort_order"`
	Columns                []string               `json:"columns"`
	Rows                   []render.Record        `json:"rows"`
	FilterOptions          metadata.FilterOptions `json:"filter_options"`
	CategorySubcategoryMap state.CategoryMap      `json:"category_subcategory_map"`
	MinMaxValues           state.Ranges           `json:"min_max_values"`
	Error                  string                 `json:"error,omitempty"`
}

// Outcome is the result of one Receive call. Payload is nil unless the
// message was adopted.
type Outcome struct {
	Decision  Decision
	Payload   *Payload
	Fallbacks []string
}

// Pusher receives every payload right after it is computed.
type Pusher func(ctx context.Context, p *Payload)

// Config wires a reconciler to its collaborators. Handle, Builder, Engine,
// Renderer and Meta are shared read-only across sessions.
type Config struct {
	Handle   *dataset.Handle
	Builder  *query.Builder
	Engine   *paging.Engine
	Renderer *render.Renderer
	Meta     *metadata.Metadata
	PageSize int
	Push     Pusher
	Logger   zerolog.Logger
}

// Reconciler owns one session's committed state and last pushed snapshot.
// Calls are serialized; different reconcilers run independently.
type Reconciler struct {
	cfg Config

	mu          sync.Mutex
	phase       Phase
	committed   state.Committed
	lastPushed  []byte // canonical snapshot; nil before the first push
	lastPayload *Payload
	recomputes  int
}

// New returns a reconciler holding default state. Nothing is pushed until
// Start or the first Receive.
func New(cfg Config) *Reconciler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	return &Reconciler{
		cfg:       cfg,
		phase:     AwaitingInteraction,
		committed: state.Defaults(cfg.Meta.Bounds(), cfg.PageSize),
	}
}

// Start runs the initial cycle with default state and pushes its payload.
func (r *Reconciler) Start(ctx context.Context) *Payload {
	r.mu.Lock()
	defer r.mu.Unlock()

	cyclesTotal.WithLabelValues(string(DecisionInitial)).Inc()
	return r.cycle(ctx)
}

// Receive evaluates one raw widget message. A structurally invalid message
// is discarded and its *state.StructureError returned alongside the outcome.
func (r *Reconciler) Receive(ctx context.Context, raw []byte) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() { r.phase = AwaitingInteraction }()

	r.phase = Evaluating
	// The first message of a session can never be an echo.
	if r.isEcho(raw) {
		r.phase = RejectedAsEcho
		cyclesTotal.WithLabelValues(string(DecisionEcho)).Inc()
		r.cfg.Logger.Debug().Msg("widget message is an echo of the last push")
		return Outcome{Decision: DecisionEcho}, nil
	}

	msg, err := state.ParseMessage(raw)
	if err != nil {
		r.phase = Discarded
		cyclesTotal.WithLabelValues(string(DecisionDiscarded)).Inc()
		r.cfg.Logger.Warn().Err(err).Msg("widget message discarded")
		return Outcome{Decision: DecisionDiscarded}, err
	}

	next, fallbacks := msg.Decode(state.Defaults(r.cfg.Meta.Bounds(), r.cfg.PageSize))
	for _, field := range fallbacks {
		r.cfg.Logger.Debug().Str("field", field).Msg("invalid field replaced by default")
	}
	next.Filters = r.cfg.Meta.CategoryMap.PruneSubcategories(next.Filters)

	r.phase = Adopted
	r.committed = next
	cyclesTotal.WithLabelValues(string(DecisionAdopted)).Inc()

	return Outcome{Decision: DecisionAdopted, Payload: r.cycle(ctx), Fallbacks: fallbacks}, nil
}

func (r *Reconciler) isEcho(raw []byte) bool {
	if r.lastPushed == nil {
		return false
	}
	canon, err := state.Canonical(raw)
	if err != nil {
		return false
	}
	return bytes.Equal(canon, r.lastPushed)
}

// cycle recomputes the page for the committed state, pushes the payload and
// records the snapshot. Caller holds mu.
func (r *Reconciler) cycle(ctx context.Context) *Payload {
	r.phase = Recompute
	r.recomputes++
	c := r.committed

	plan := r.cfg.Builder.Build(r.cfg.Handle, c.Filters, c.Sort)
	start := time.Now()
	res, err := r.cfg.Engine.Paginate(ctx, plan, c.Page)
	queryDuration.Observe(time.Since(start).Seconds())
	if res.Cache != "" {
		countCacheTotal.WithLabelValues(res.Cache).Inc()
	}

	p := r.basePayload()
	if err != nil {
		r.cfg.Logger.Error().Err(err).Str("plan", plan.String()).Msg("query failed")
		p.Error = err.Error()
		p.TotalPages = 1
		r.committed.Page.Number = paging.Clamp(0, c.Page.Size, c.Page.Number)
		p.CurrentPage = r.committed.Page.Number
	} else {
		r.committed.Page.Number = res.Page
		p.CurrentPage = res.Page
		p.TotalRows = res.TotalRows
		p.TotalPages = res.TotalPages
		p.Rows = r.cfg.Renderer.Render(res.Columns, res.Rows)
	}

	r.phase = Pushed
	if r.cfg.Push != nil {
		r.cfg.Push(ctx, p)
	}

	snap, err := state.CanonicalOf(r.committed.Snapshot())
	if err != nil {
		r.cfg.Logger.Error().Err(err).Msg("cannot encode pushed state")
		snap = nil
	}
	r.lastPushed = snap
	r.lastPayload = p

	r.cfg.Logger.Info().
		Int("page", p.CurrentPage).
		Int64("total_rows", p.TotalRows).
		Str("sort_order", c.Sort.String()).
		Dur("took", time.Since(start)).
		Msg("cycle pushed")
	r.phase = AwaitingInteraction
	return p
}

func (r *Reconciler) basePayload() *Payload {
	c := r.committed
	return &Payload{
		CurrentPage:            c.Page.Number,
		PageSize:               c.Page.Size,
		Filters:                c.Filters,
		SortOrder:              c.Sort,
		Columns:                render.VisibleColumns,
		Rows:                   []render.Record{},
		FilterOptions:          r.cfg.Meta.Options(),
		CategorySubcategoryMap: r.cfg.Meta.CategoryMap,
		MinMaxValues:           r.cfg.Meta.Bounds(),
	}
}

// Committed returns the current authoritative state.
func (r *Reconciler) Committed() state.Committed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed
}

// Phase returns the current state machine phase.
func (r *Reconciler) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// LastPayload returns the most recently pushed payload, or nil.
func (r *Reconciler) LastPayload() *Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPayload
}

// Recomputes returns how many cycles have run.
func (r *Reconciler) Recomputes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recomputes
}

// Plan builds the query for the committed state, for exports.
func (r *Reconciler) Plan() query.Plan {
	r.mu.Lock()
	c := r.committed
	r.mu.Unlock()
	return r.cfg.Builder.Build(r.cfg.Handle, c.Filters, c.Sort)
}
