package runtime

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/chainctx"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/engine"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/host"
	"github.com/wippyai/chainvm/legacyvm"
	"github.com/wippyai/chainvm/metrics"
	"github.com/wippyai/chainvm/native"
	"github.com/wippyai/chainvm/storage"
)

const tracerName = "github.com/wippyai/chainvm/runtime"

// Runtime executes transactions against a durable store. It is safe for
// concurrent use; transactions share only the store and the engine's
// module cache.
type Runtime struct {
	store     storage.Backend
	engine    *engine.Engine
	resolver  *engine.Resolver
	contracts *contract.Manager
	legacy    *legacyvm.Registry
	natives   *native.Registry
	log       *zap.Logger
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	costs     chainctx.CostTable
	limits    Limits
}

// New builds a runtime over store. The built-in ledger is registered at
// native.LedgerAddress.
func New(ctx context.Context, store storage.Backend, opts ...Option) (*Runtime, error) {
	o := options{
		costs: chainctx.DefaultCosts(),
		limits: Limits{
			Gas:       DefaultGasLimit,
			GasFactor: 1,
			Depth:     Depth(chainctx.DefaultDepth),
			Steps:     chainctx.DefaultStepLimit,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.tp == nil {
		o.tp = otel.GetTracerProvider()
	}
	if o.engine.Logger == nil {
		o.engine.Logger = o.log.Named("engine")
	}

	eng, err := engine.New(ctx, &o.engine)
	if err != nil {
		return nil, err
	}
	r := &Runtime{
		store:    store,
		engine:   eng,
		resolver: host.NewResolver(),
		legacy:   legacyvm.NewRegistry(),
		natives:  native.NewRegistry(),
		log:      o.log,
		tracer:   o.tp.Tracer(tracerName),
		metrics:  o.metrics,
		costs:    o.costs,
		limits:   o.limits,
	}
	r.contracts = contract.NewManager(r.validateCode, o.log.Named("contract"))
	if err := eng.Link(ctx, r.resolver); err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}
	r.natives.Register(native.LedgerAddress, native.Ledger{})

	if r.metrics != nil {
		r.metrics.GaugeFunc("engine", "modules", "Compiled modules held in memory",
			func() float64 { return float64(eng.Stats().Modules) })
		r.metrics.CounterFunc("engine", "cache_hits_total", "Compile requests served from the module cache",
			func() float64 { return float64(eng.Stats().Hits) })
		r.metrics.CounterFunc("engine", "cache_misses_total", "Compile requests that compiled code",
			func() float64 { return float64(eng.Stats().Misses) })
	}
	return r, nil
}

// Close releases the engine. The store is owned by the caller.
func (r *Runtime) Close(ctx context.Context) error {
	return r.engine.Close(ctx)
}

// Engine is the module pipeline transactions run on.
func (r *Runtime) Engine() *engine.Engine { return r.engine }

// Limits returns the transaction defaults.
func (r *Runtime) Limits() Limits { return Limits{}.merge(r.limits) }

func (r *Runtime) validateCode(d *contract.DeployCode) error {
	switch d.VMType {
	case contract.VMWasm:
		_, err := r.engine.Validate(d.Code)
		return err
	case contract.VMLegacy:
		return legacyvm.ParseScript(d.Code)
	}
	return errors.Unsupported(errors.PhaseContract, d.VMType.String())
}

// RegisterLegacy binds a Go legacy VM contract to addr.
func (r *Runtime) RegisterLegacy(addr common.Address, c legacyvm.Contract) {
	r.legacy.Register(addr, c)
}

// RegisterNative binds a native contract to addr.
func (r *Runtime) RegisterNative(addr common.Address, c native.Contract) {
	r.natives.Register(addr, c)
}

// GetStorage reads a committed storage record of addr.
func (r *Runtime) GetStorage(addr common.Address, key []byte) ([]byte, bool, error) {
	return r.store.Get(storage.StorageKey(addr, key))
}

// GetContract loads the committed code stored at addr.
func (r *Runtime) GetContract(addr common.Address) (*contract.DeployCode, bool, error) {
	return contract.Get(r.store, addr)
}

// DeployGas is the gas a deployment of d costs.
func (r *Runtime) DeployGas(d *contract.DeployCode) uint64 {
	return r.costs.DeployCost(false, len(d.Code))
}

// Deploy validates and stores d outside of any contract and returns its
// address. The deployment is charged against the runtime gas limit. WASM
// code is compiled ahead of its first call.
func (r *Runtime) Deploy(ctx context.Context, d *contract.DeployCode) (common.Address, error) {
	ctx, span := r.tracer.Start(ctx, "chainvm.deploy")
	defer span.End()

	addr, err := r.deploy(d)
	r.metrics.Deploy(d.VMType.String(), err == nil)
	if err != nil {
		span.RecordError(err)
		r.log.Info("deploy failed", zap.Stringer("vm", d.VMType), zap.Error(err))
		return common.Address{}, err
	}
	if d.VMType == contract.VMWasm {
		if _, err := r.engine.Compile(ctx, d.Code); err != nil {
			r.log.Warn("precompile failed", zap.Stringer("contract", addr), zap.Error(err))
		}
	}
	r.log.Info("contract deployed", zap.Stringer("contract", addr), zap.Stringer("vm", d.VMType))
	return addr, nil
}

func (r *Runtime) deploy(d *contract.DeployCode) (common.Address, error) {
	if need := r.DeployGas(d); need > r.limits.Gas {
		return common.Address{}, errors.OutOfGas(need, r.limits.Gas)
	}
	state := storage.NewOverlay(r.store)
	addr, err := r.contracts.Create(state, d)
	if err != nil {
		return common.Address{}, err
	}
	if err := state.Commit(); err != nil {
		return common.Address{}, errors.Storage("commit deployment", err)
	}
	return addr, nil
}
