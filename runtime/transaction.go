package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/chainctx"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/storage"
)

// Transaction is a top-level contract invocation.
type Transaction struct {
	Contract common.Address
	Input    []byte
	Sender   common.Address
	// Witnesses are the accounts that signed the transaction. Empty means
	// the sender alone.
	Witnesses []common.Address
	BlockHash common.H256
	TxHash    common.H256
	Timestamp uint64
	// DepthLimit falls back to the runtime Limits when nil. GasLimit,
	// GasFactor and StepLimit fall back when zero.
	DepthLimit   *uint64
	GasLimit     uint64
	GasFactor    uint64
	StepLimit    uint64
	ServiceIndex uint64
	Height       uint32
}

func (tx *Transaction) params(costs chainctx.CostTable, defaults Limits) chainctx.Params {
	witnesses := tx.Witnesses
	if len(witnesses) == 0 {
		witnesses = []common.Address{tx.Sender}
	}
	l := defaults.merge(Limits{Gas: tx.GasLimit, GasFactor: tx.GasFactor, Depth: tx.DepthLimit, Steps: tx.StepLimit})
	return chainctx.Params{
		Height:       tx.Height,
		BlockHash:    tx.BlockHash,
		Timestamp:    tx.Timestamp,
		TxHash:       tx.TxHash,
		Callers:      chainctx.EncodeAddressList(tx.Sender),
		Witnesses:    chainctx.EncodeAddressList(witnesses...),
		Input:        tx.Input,
		GasFactor:    l.GasFactor,
		GasLeft:      l.Gas,
		DepthLeft:    *l.Depth,
		ServiceIndex: tx.ServiceIndex,
		StepLimit:    l.Steps,
		Costs:        &costs,
	}
}

// State is the outcome of a transaction.
type State byte

const (
	Failed  State = 0
	Applied State = 1
)

func (s State) String() string {
	if s == Applied {
		return "applied"
	}
	return "failed"
}

// Receipt reports what a transaction did. A failed transaction has no
// output, no notifications and no state changes.
type Receipt struct {
	State         State
	Output        []byte
	GasUsed       uint64
	ExecSteps     uint64
	Notifications []chainctx.Notification
	Kind          errors.ResultKind
	Error         string
	err           error
}

// Err is the failure reason, nil for an applied transaction.
func (r *Receipt) Err() error { return r.err }

// Execute runs tx and commits its writes when it succeeds. Contract
// failures are reported in the receipt; the error is reserved for
// malformed transactions and store failures.
func (r *Runtime) Execute(ctx context.Context, tx *Transaction) (*Receipt, error) {
	return r.execute(ctx, tx, true)
}

// PreExecute runs tx like Execute but never commits.
func (r *Runtime) PreExecute(ctx context.Context, tx *Transaction) (*Receipt, error) {
	return r.execute(ctx, tx, false)
}

func (r *Runtime) execute(ctx context.Context, tx *Transaction, commit bool) (*Receipt, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "chainvm.execute", trace.WithAttributes(
		attribute.String("contract", tx.Contract.String()),
		attribute.String("tx", tx.TxHash.String()),
		attribute.Bool("commit", commit),
	))
	defer span.End()

	cc, err := chainctx.New(tx.params(r.costs, r.limits))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cc.Close()
	span.SetAttributes(attribute.Int64("service_index", int64(cc.ServiceIndex())))

	state := storage.NewOverlay(r.store)
	x := &executor{rt: r, ctx: cc, state: state}
	out, err := x.top(ctx, tx.Contract, tx.Input)

	rec := &Receipt{
		GasUsed:   cc.GasUsed(),
		ExecSteps: cc.ExecStep(),
		Kind:      errors.ResultKindOf(err),
	}
	span.SetAttributes(
		attribute.Int64("gas_used", int64(rec.GasUsed)),
		attribute.Int64("exec_steps", int64(rec.ExecSteps)),
	)
	if err != nil {
		state.Discard()
		rec.State = Failed
		rec.Error = err.Error()
		rec.err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, rec.Kind.String())
		r.log.Info("transaction failed",
			zap.Stringer("contract", tx.Contract),
			zap.Stringer("kind", rec.Kind),
			zap.Uint64("gas_used", rec.GasUsed),
			zap.Error(err))
	} else {
		rec.State = Applied
		rec.Output = out
		rec.Notifications = cc.Notifications()
		if commit {
			writes := state.Len()
			if err := state.Commit(); err != nil {
				span.RecordError(err)
				return nil, errors.Storage("commit transaction", err)
			}
			r.log.Debug("transaction committed",
				zap.Stringer("contract", tx.Contract),
				zap.Int("writes", writes),
				zap.Uint64("gas_used", rec.GasUsed))
		} else {
			state.Discard()
		}
	}
	r.metrics.Transaction(rec.State.String(), rec.Kind.String(), rec.GasUsed, rec.ExecSteps, time.Since(start).Seconds())
	return rec, nil
}
