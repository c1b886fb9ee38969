package host

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/chainvm/abi"
	"github.com/wippyai/chainvm/engine"
	"github.com/wippyai/chainvm/wasm/metering"
)

var funcs = map[string]api.GoModuleFunc{
	abi.Timestamp:        timestamp,
	abi.BlockHeight:      blockHeight,
	abi.SelfAddress:      selfAddress,
	abi.CallerAddress:    callerAddress,
	abi.EntryAddress:     entryAddress,
	abi.InputLength:      inputLength,
	abi.GetInput:         getInput,
	abi.CallOutputLen:    callOutputLength,
	abi.GetCallOutput:    getCallOutput,
	abi.CheckWitness:     checkWitness,
	abi.CurrentBlockHash: currentBlockHash,
	abi.CurrentTxHash:    currentTxHash,
	abi.Return:           ret,
	abi.Panic:            guestPanic,
	abi.Notify:           notify,
	abi.Debug:            debugLog,
	abi.Sha256:           sha256Hash,
	abi.CallContract:     callContract,
	abi.TryCallContract:  tryCallContract,
	abi.StorageRead:      storageRead,
	abi.StorageWrite:     storageWrite,
	abi.StorageDelete:    storageDelete,
	abi.ContractCreate:   contractCreate,
	abi.ContractMigrate:  contractMigrate,
	abi.ContractDestroy:  contractDestroy,
}

// NewResolver returns a resolver for the full contract host surface,
// including the gas meter import. Pass names to restrict the surface to
// a subset; the meter is always present.
func NewResolver(names ...string) *engine.Resolver {
	r := engine.NewResolver(abi.Module)
	r.Define(metering.DefaultMeterName, metering.MeterType, meter)
	if len(names) == 0 {
		for name, fn := range funcs {
			r.Define(name, abi.Signatures[name], fn)
		}
		return r
	}
	for _, name := range names {
		if fn, ok := funcs[name]; ok {
			r.Define(name, abi.Signatures[name], fn)
		}
	}
	return r
}
