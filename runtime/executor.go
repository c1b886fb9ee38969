package runtime

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/chainctx"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/host"
	"github.com/wippyai/chainvm/legacyvm"
	"github.com/wippyai/chainvm/native"
	"github.com/wippyai/chainvm/storage"
)

// Stage is a step of a single invocation.
type Stage int

const (
	StageIdle Stage = iota
	StageValidating
	StageCompiling
	StageInstantiated
	StageRunning
	StageReturned
	StageTrapped
)

var stageNames = [...]string{"idle", "validating", "compiling", "instantiated", "running", "returned", "trapped"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// executor runs the invocations of one transaction. It implements
// host.Dispatcher for nested calls.
type executor struct {
	rt    *Runtime
	ctx   *chainctx.Context
	state *storage.Overlay
}

var _ host.Dispatcher = (*executor)(nil)

// top runs the transaction's entry contract. It does not use call depth.
func (x *executor) top(ctx context.Context, target common.Address, input []byte) ([]byte, error) {
	if err := x.ctx.ChargeGas(x.ctx.Costs().MinTransaction); err != nil {
		return nil, err
	}
	x.ctx.SetEntry(target)
	return x.run(ctx, target, input)
}

// Call runs a nested invocation for the contract in ctx's frame.
func (x *executor) Call(ctx context.Context, target common.Address, input []byte) ([]byte, error) {
	if err := x.ctx.ConsumeDepth(); err != nil {
		return nil, err
	}
	caller := x.ctx.Entry()
	if f, ok := host.FrameFrom(ctx); ok {
		caller = f.Self
	}
	x.ctx.PushCaller(caller)
	defer x.ctx.PopCaller()

	ctx, span := x.rt.tracer.Start(ctx, "chainvm.call", trace.WithAttributes(
		attribute.String("caller", caller.String()),
		attribute.String("contract", target.String()),
		attribute.Int("depth", x.ctx.Depth()),
	))
	defer span.End()
	out, err := x.run(ctx, target, input)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

// run dispatches to whichever VM serves target: native contracts first,
// then registered legacy contracts, then stored code.
func (x *executor) run(ctx context.Context, target common.Address, input []byte) ([]byte, error) {
	prev := x.ctx.SwapInput(input)
	defer x.ctx.SwapInput(prev)

	env := &contract.Env{Ctx: x.ctx, State: x.state, Log: x.rt.log, Self: target}
	if c, ok := x.rt.natives.Lookup(target); ok {
		x.rt.metrics.Invocation("native")
		return native.Call(env, c, input)
	}
	if c, ok := x.rt.legacy.Lookup(target); ok {
		x.rt.metrics.Invocation("legacy")
		return legacyvm.Call(env, c, input)
	}

	d, ok, err := contract.Get(x.state, target)
	if err != nil {
		return nil, errors.Storage("load contract", err)
	}
	if !ok {
		return nil, contract.NotFound(target)
	}
	x.rt.metrics.Invocation(d.VMType.String())
	switch d.VMType {
	case contract.VMWasm:
		return x.runWasm(ctx, target, d.Code)
	case contract.VMLegacy:
		sc, err := legacyvm.NewScriptContract(d.Code)
		if err != nil {
			return nil, err
		}
		return legacyvm.Call(env, sc, input)
	}
	return nil, errors.Unsupported(errors.PhaseContract, d.VMType.String())
}

func (x *executor) runWasm(ctx context.Context, target common.Address, code []byte) ([]byte, error) {
	frame := &host.Frame{
		Ctx:       x.ctx,
		State:     x.state,
		Contracts: x.rt.contracts,
		Calls:     x,
		Log:       x.rt.log,
		Self:      target,
	}
	ctx = host.WithFrame(ctx, frame)
	x.ctx.ClearCallOutput()

	x.enter(ctx, target, StageValidating)
	x.enter(ctx, target, StageCompiling)
	inst, err := x.rt.engine.Load(ctx, code, x.rt.resolver)
	if err != nil {
		x.fail(target, err)
		return nil, err
	}
	defer inst.Close(ctx)
	x.enter(ctx, target, StageInstantiated)

	x.enter(ctx, target, StageRunning)
	if err := inst.Invoke(ctx); err != nil {
		x.enter(ctx, target, StageTrapped)
		x.fail(target, err)
		return nil, err
	}
	x.enter(ctx, target, StageReturned)
	return append([]byte(nil), x.ctx.CallOutput()...), nil
}

func (x *executor) enter(ctx context.Context, target common.Address, s Stage) {
	trace.SpanFromContext(ctx).AddEvent(s.String(), trace.WithAttributes(
		attribute.String("contract", target.String()),
		attribute.Int64("gas_left", int64(x.ctx.GasLeft())),
	))
}

func (x *executor) fail(target common.Address, err error) {
	x.rt.log.Debug("invocation failed",
		zap.Stringer("contract", target),
		zap.Int("depth", x.ctx.Depth()),
		zap.Uint64("gas_left", x.ctx.GasLeft()),
		zap.Error(err))
}
