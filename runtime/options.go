package runtime

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/chainctx"
	"github.com/wippyai/chainvm/engine"
	"github.com/wippyai/chainvm/metrics"
)

// DefaultGasLimit is used when a transaction or deployment sets no limit.
const DefaultGasLimit uint64 = 200_000_000

type options struct {
	log     *zap.Logger
	engine  engine.Config
	costs   chainctx.CostTable
	metrics *metrics.Metrics
	tp      trace.TracerProvider
	limits  Limits
}

// Limits are the transaction defaults applied where a Transaction leaves
// a field unset. Zero is a valid depth budget, so Depth is unset when nil.
type Limits struct {
	Depth     *uint64
	Gas       uint64
	GasFactor uint64
	Steps     uint64
}

// Depth returns a depth budget for Limits or Transaction.
func Depth(n uint64) *uint64 { return &n }

func (l Limits) merge(o Limits) Limits {
	if o.Gas != 0 {
		l.Gas = o.Gas
	}
	if o.GasFactor != 0 {
		l.GasFactor = o.GasFactor
	}
	if o.Depth != nil {
		l.Depth = Depth(*o.Depth)
	}
	if o.Steps != 0 {
		l.Steps = o.Steps
	}
	return l
}

// Option configures a Runtime.
type Option func(*options)

// WithLogger sets the logger for the runtime and its engine.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithEngineConfig sets the engine configuration. The logger is filled in
// from WithLogger when unset.
func WithEngineConfig(cfg engine.Config) Option {
	return func(o *options) { o.engine = cfg }
}

// WithCosts replaces the host operation price list.
func WithCosts(c chainctx.CostTable) Option {
	return func(o *options) { o.costs = c }
}

// WithMetrics records runtime activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets where execution spans go. The global provider is
// used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithGasLimit sets the limit applied to transactions and deployments that
// do not carry their own.
func WithGasLimit(n uint64) Option {
	return func(o *options) { o.limits.Gas = n }
}

// WithLimits overrides the set fields of the transaction defaults.
func WithLimits(l Limits) Option {
	return func(o *options) { o.limits = o.limits.merge(l) }
}
