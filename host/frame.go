// Package host implements the functions contracts import from the "env"
// module: chain context queries, storage, events, hashing, nested calls
// and the contract lifecycle.
//
// Host functions find the state of the running invocation in a Frame
// carried by the context.Context of the call. Fatal conditions (gas,
// depth, bad pointers, failed nested calls) are raised by panicking with
// an *errors.Error, which the engine turns back into the invocation's
// error.
package host

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/chainvm/chainctx"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/errors"
)

// MaxNotifyLen bounds the payload of one event.
const MaxNotifyLen = 64 << 10

// Dispatcher runs a nested call on behalf of the running contract and
// returns the callee's output.
type Dispatcher interface {
	Call(ctx context.Context, target common.Address, input []byte) ([]byte, error)
}

// Frame is the state of one invocation as seen by host functions.
type Frame struct {
	Ctx       *chainctx.Context
	State     contract.Store
	Contracts *contract.Manager
	Calls     Dispatcher
	Log       *zap.Logger
	Self      common.Address
}

type frameKey struct{}

// WithFrame returns a context carrying f.
func WithFrame(ctx context.Context, f *Frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

// FrameFrom returns the frame carried by ctx.
func FrameFrom(ctx context.Context) (*Frame, bool) {
	f, ok := ctx.Value(frameKey{}).(*Frame)
	return f, ok && f != nil
}

func mustFrame(ctx context.Context) *Frame {
	f, ok := FrameFrom(ctx)
	if !ok {
		panic(errors.New(errors.PhaseHost, errors.KindInternal).Detail("host call outside an invocation").Build())
	}
	return f
}

func (f *Frame) logger() *zap.Logger {
	if f.Log == nil {
		return zap.NewNop()
	}
	return f.Log
}

// charge debits n gas or aborts the invocation.
func (f *Frame) charge(n uint64) {
	if err := f.Ctx.ChargeGas(n); err != nil {
		panic(err)
	}
}
