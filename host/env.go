package host

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/abi"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/engine"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/storage"
)

func load(m api.Module, ptr, n uint32) []byte {
	b, err := common.Slice{Ptr: ptr, Len: n}.Load(m.Memory())
	if err != nil {
		panic(errors.Trap("bad guest pointer", err))
	}
	return b
}

func store(m api.Module, ptr uint32, data []byte) {
	if err := (common.Slice{Ptr: ptr, Len: uint32(len(data))}).Store(m.Memory(), data); err != nil {
		panic(errors.Trap("bad guest pointer", err))
	}
}

func loadAddress(m api.Module, ptr uint32) common.Address {
	var a common.Address
	copy(a[:], load(m, ptr, common.AddrLen))
	return a
}

func u32(v uint64) uint32 { return api.DecodeU32(v) }

func timestamp(ctx context.Context, _ api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	stack[0] = f.Ctx.Timestamp()
}

func blockHeight(ctx context.Context, _ api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	stack[0] = api.EncodeU32(f.Ctx.Height())
}

func selfAddress(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	store(m, u32(stack[0]), f.Self[:])
}

func callerAddress(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	caller := f.Ctx.Caller()
	store(m, u32(stack[0]), caller[:])
}

func entryAddress(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	entry := f.Ctx.Entry()
	store(m, u32(stack[0]), entry[:])
}

func inputLength(ctx context.Context, _ api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	stack[0] = api.EncodeU32(uint32(len(f.Ctx.Input())))
}

func getInput(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	store(m, u32(stack[0]), f.Ctx.Input())
}

func callOutputLength(ctx context.Context, _ api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	stack[0] = api.EncodeU32(uint32(len(f.Ctx.CallOutput())))
}

func getCallOutput(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	store(m, u32(stack[0]), f.Ctx.CallOutput())
}

func checkWitness(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().CheckWitness)
	if f.Ctx.CheckWitness(loadAddress(m, u32(stack[0]))) {
		stack[0] = 1
	} else {
		stack[0] = 0
	}
}

func currentBlockHash(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	h := f.Ctx.BlockHash()
	store(m, u32(stack[0]), h[:])
	stack[0] = api.EncodeU32(common.HashLen)
}

func currentTxHash(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	h := f.Ctx.TxHash()
	store(m, u32(stack[0]), h[:])
	stack[0] = api.EncodeU32(common.HashLen)
}

// ret sets the invocation output and stops the guest.
func ret(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	f.Ctx.SetCallOutput(load(m, u32(stack[0]), u32(stack[1])))
	engine.Halt()
}

func guestPanic(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	msg, err := common.Slice{Ptr: u32(stack[0]), Len: u32(stack[1])}.Load(m.Memory())
	if err != nil {
		msg = []byte("<unreadable message>")
	}
	panic(errors.Trap(fmt.Sprintf("contract panic: %s", msg), nil))
}

func notify(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	n := u32(stack[1])
	if n >= MaxNotifyLen {
		panic(errors.Trap(fmt.Sprintf("notify payload of %d bytes exceeds %d", n, MaxNotifyLen), nil))
	}
	data := load(m, u32(stack[0]), n)
	f.Ctx.Notify(f.Self, data)
}

// debug never fails the guest.
func debugLog(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	msg, err := common.Slice{Ptr: u32(stack[0]), Len: u32(stack[1])}.Load(m.Memory())
	if err != nil {
		return
	}
	f.logger().Debug("contract debug", zap.Stringer("contract", f.Self), zap.ByteString("msg", msg))
}

func sha256Hash(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	n := u32(stack[1])
	f.charge(f.Ctx.Costs().Sha256Cost(int(n)))
	sum := sha256.Sum256(load(m, u32(stack[0]), n))
	store(m, u32(stack[2]), sum[:])
}

func (f *Frame) call(ctx context.Context, m api.Module, stack []uint64) {
	target := loadAddress(m, u32(stack[0]))
	input := load(m, u32(stack[1]), u32(stack[2]))
	out, err := f.Calls.Call(ctx, target, input)
	if err != nil {
		panic(err)
	}
	f.Ctx.SetCallOutput(out)
	stack[0] = api.EncodeU32(uint32(len(out)))
}

// callContract fails the whole transaction when the callee fails,
// including when no call depth is left.
func callContract(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().AppCall)
	f.call(ctx, m, stack)
}

// tryCallContract reports an exhausted depth budget to the guest as a
// status code instead of failing. Any other callee failure is fatal.
func tryCallContract(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().AppCall)
	if f.Ctx.DepthLeft() == 0 {
		f.Ctx.ClearCallOutput()
		stack[0] = api.EncodeU32(abi.CallDepthExceeded)
		return
	}
	f.call(ctx, m, stack)
	stack[0] = api.EncodeU32(abi.CallOK)
}

func storageRead(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().StorageGet)
	key := load(m, u32(stack[0]), u32(stack[1]))
	val, ok, err := f.State.Get(storage.StorageKey(f.Self, key))
	if err != nil {
		panic(errors.Storage("storage read", err))
	}
	if !ok {
		stack[0] = api.EncodeU32(abi.StorageMiss)
		return
	}
	vlen, off := u32(stack[3]), u32(stack[4])
	if uint64(off) < uint64(len(val)) {
		chunk := val[off:]
		if uint64(len(chunk)) > uint64(vlen) {
			chunk = chunk[:vlen]
		}
		store(m, u32(stack[2]), chunk)
	}
	stack[0] = api.EncodeU32(uint32(len(val)))
}

func storageWrite(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	klen, vlen := u32(stack[1]), u32(stack[3])
	f.charge(f.Ctx.Costs().StoragePutCost(int(klen), int(vlen)))
	key := load(m, u32(stack[0]), klen)
	val := load(m, u32(stack[2]), vlen)
	f.State.Put(storage.StorageKey(f.Self, key), val)
}

func storageDelete(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().StorageDelete)
	key := load(m, u32(stack[0]), u32(stack[1]))
	f.State.Delete(storage.StorageKey(f.Self, key))
}

// readDeploy decodes the 13 leading arguments shared by create and
// migrate: code, vm type and five metadata strings.
func readDeploy(m api.Module, stack []uint64) *contract.DeployCode {
	str := func(i int) string {
		return string(load(m, u32(stack[i]), u32(stack[i+1])))
	}
	return &contract.DeployCode{
		Code:    load(m, u32(stack[0]), u32(stack[1])),
		VMType:  contract.VMType(u32(stack[2])),
		Name:    str(3),
		Version: str(5),
		Author:  str(7),
		Email:   str(9),
		Desc:    str(11),
	}
}

func contractCreate(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().DeployCost(false, int(u32(stack[1]))))
	d := readDeploy(m, stack)
	addr, err := f.Contracts.Create(f.State, d)
	if err != nil {
		panic(err)
	}
	store(m, u32(stack[13]), addr[:])
	stack[0] = api.EncodeU32(common.AddrLen)
}

// contractMigrate moves the running contract to new code. The invocation
// keeps running under the old address.
func contractMigrate(ctx context.Context, m api.Module, stack []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().DeployCost(true, int(u32(stack[1]))))
	d := readDeploy(m, stack)
	addr, err := f.Contracts.Migrate(f.State, f.Self, d)
	if err != nil {
		panic(err)
	}
	f.logger().Debug("contract migrated by guest", zap.Stringer("from", f.Self), zap.Stringer("to", addr))
	store(m, u32(stack[13]), addr[:])
	stack[0] = api.EncodeU32(common.AddrLen)
}

// contractDestroy removes the running contract and stops the guest.
func contractDestroy(ctx context.Context, _ api.Module, _ []uint64) {
	f := mustFrame(ctx)
	f.charge(f.Ctx.Costs().Host)
	if _, err := f.Contracts.Destroy(f.State, f.Self); err != nil {
		panic(err)
	}
	f.Ctx.ClearCallOutput()
	engine.Halt()
}

// meter is the target of the calls inserted by gas instrumentation.
func meter(ctx context.Context, _ api.Module, stack []uint64) {
	f := mustFrame(ctx)
	if err := f.Ctx.ChargeSteps(stack[0]); err != nil {
		panic(err)
	}
}
