package contract

import (
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/chainctx"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/storage"
)

// Env is what a Go-implemented contract sees while it runs. Every
// operation charges gas on the shared transaction context.
type Env struct {
	Ctx   *chainctx.Context
	State Store
	Log   *zap.Logger
	Self  common.Address
}

// StorageGet reads a key of the running contract.
func (e *Env) StorageGet(key []byte) ([]byte, bool, error) {
	if err := e.Ctx.ChargeGas(e.Ctx.Costs().StorageGet); err != nil {
		return nil, false, err
	}
	return e.State.Get(storage.StorageKey(e.Self, key))
}

// StoragePut writes a key of the running contract.
func (e *Env) StoragePut(key, value []byte) error {
	if err := e.Ctx.ChargeGas(e.Ctx.Costs().StoragePutCost(len(key), len(value))); err != nil {
		return err
	}
	e.State.Put(storage.StorageKey(e.Self, key), value)
	return nil
}

// StorageDelete removes a key of the running contract.
func (e *Env) StorageDelete(key []byte) error {
	if err := e.Ctx.ChargeGas(e.Ctx.Costs().StorageDelete); err != nil {
		return err
	}
	e.State.Delete(storage.StorageKey(e.Self, key))
	return nil
}

// CheckWitness reports whether addr authorized the call.
func (e *Env) CheckWitness(addr common.Address) (bool, error) {
	if err := e.Ctx.ChargeGas(e.Ctx.Costs().CheckWitness); err != nil {
		return false, err
	}
	return e.Ctx.CheckWitness(addr), nil
}

// Notify emits an event from the running contract.
func (e *Env) Notify(data []byte) {
	e.Ctx.Notify(e.Self, data)
}

// Logger never returns nil.
func (e *Env) Logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}
