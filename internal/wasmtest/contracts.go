package wasmtest

import (
	"github.com/wippyai/chainvm/abi"
	"github.com/wippyai/chainvm/wasm"
)

// Linear memory layout shared by the test contracts.
const (
	MetaAt    = 0     // "migrated" metadata string
	AfterAt   = 16    // "after" key written after destroy
	BoomAt    = 32    // "boom" panic message
	AddrAt    = 256   // 20-byte address scratch
	OutAt     = 512   // output scratch
	CallOutAt = 16384 // nested call output
	InputAt   = 32768 // invocation input
)

// VMTypeWasm is the vm type byte contracts pass to create and migrate.
const VMTypeWasm = 3

const (
	lLen  = 0 // input length
	lBase = 1 // first argument byte
	lSel  = 2 // first method character
	lTmp  = 3
	lTmp2 = 4
)

var i32 = wasm.ValI32

func dispatchLocals() []wasm.ValType { return []wasm.ValType{i32, i32, i32, i32, i32} }

// prologue loads the input and splits off the varstring method name.
func prologue(b *Builder, c *Code) {
	c.Call(b.Import(abi.InputLength)).Set(lLen)
	c.I32(InputAt).Call(b.Import(abi.GetInput))
	c.I32(InputAt).Load8U(0).I32(InputAt + 1).Add().Set(lBase)
	c.I32(InputAt).Load8U(1).Set(lSel)
}

// rest pushes the number of input bytes after the method name.
func rest(c *Code) {
	c.Get(lLen).Get(lBase).Sub().I32(InputAt).Add()
}

// method runs body when the method starts with ch, then returns.
func method(c *Code, ch byte, body func()) {
	c.Get(lSel).I32(int32(ch)).Eq().If()
	body()
	c.Return().End()
}

func finish(b *Builder, c *Code) []byte {
	// unknown method
	c.I32(BoomAt).I32(4).Call(b.Import(abi.Panic))
	b.Export(abi.Entry, b.Func(Void, dispatchLocals(), c))
	return b.Bytes()
}

// Adder implements add(a: u64, b: u64) -> u64.
func Adder() []byte {
	b := NewBuilder(1)
	getInput := b.Import(abi.GetInput)
	ret := b.Import(abi.Return)

	c := &Code{}
	c.I32(InputAt).Call(getInput)
	c.I32(InputAt).Load8U(0).I32(InputAt + 1).Add().Set(0)
	c.I32(OutAt)
	c.Get(0).Load64(0)
	c.Get(0).Load64(8)
	c.Op(wasm.OpI64Add)
	c.Store64(0)
	c.I32(OutAt).I32(8).Call(ret)

	b.Export(abi.Entry, b.Func(Void, []wasm.ValType{i32}, c))
	return b.Bytes()
}

// Recurser implements recurse(a: u64, b: u64, depth: u32) -> u64. It calls
// itself depth times and returns a+b from the innermost call.
func Recurser() []byte {
	b := NewBuilder(1)
	inputLen := b.Import(abi.InputLength)
	getInput := b.Import(abi.GetInput)
	ret := b.Import(abi.Return)
	self := b.Import(abi.SelfAddress)
	call := b.Import(abi.CallContract)
	getOut := b.Import(abi.GetCallOutput)

	c := &Code{}
	c.Call(inputLen).Set(1)
	c.I32(InputAt).Call(getInput)
	c.I32(InputAt).Load8U(0).I32(InputAt + 1).Add().Set(0)
	c.Get(0).Load32(16).Tee(2).Eqz().If()
	{
		c.I32(OutAt)
		c.Get(0).Load64(0)
		c.Get(0).Load64(8)
		c.Op(wasm.OpI64Add)
		c.Store64(0)
		c.I32(OutAt).I32(8).Call(ret)
	}
	c.Else()
	{
		c.Get(0).Get(2).I32(1).Sub().Store32(16)
		c.I32(AddrAt).Call(self)
		c.I32(AddrAt).I32(InputAt).Get(1).Call(call).Set(2)
		c.I32(CallOutAt).Call(getOut)
		c.I32(CallOutAt).Get(2).Call(ret)
	}
	c.End()

	b.Export(abi.Entry, b.Func(Void, []wasm.ValType{i32, i32, i32}, c))
	return b.Bytes()
}

// Storage implements a key/value contract. Keys and values are short
// varbytes (under 253 bytes).
//
//	put(key, value)      store
//	get(key) -> option   0x00 on miss, 0x01 len value on hit
//	xdel(key)            delete
//	migrate(code...)     migrate to the remaining input, returns the new address
//	destroy()            destroy, then try to write "after"
//	write_loop(k, v)     store, then spin forever
//	loop()               spin forever
func Storage() []byte {
	b := NewBuilder(2)
	b.Data(MetaAt, []byte("migrated"))
	b.Data(AfterAt, []byte("after"))
	b.Data(BoomAt, []byte("boom"))
	c := &Code{}
	prologue(b, c)

	write := func() {
		// key ptr, key len, value ptr, value len
		c.Get(lBase).I32(1).Add()
		c.Get(lBase).Load8U(0)
		c.Get(lBase).Get(lBase).Load8U(0).Add().I32(2).Add()
		c.Get(lBase).Get(lBase).Load8U(0).Add().Load8U(1)
		c.Call(b.Import(abi.StorageWrite))
	}

	method(c, 'p', write)
	method(c, 'g', func() {
		c.Get(lBase).I32(1).Add()
		c.Get(lBase).Load8U(0)
		c.I32(OutAt + 2).I32(1024).I32(0)
		c.Call(b.Import(abi.StorageRead)).Tee(lTmp)
		c.I32(-1).Eq().If()
		{
			c.I32(OutAt).I32(0).Store8(0)
			c.I32(OutAt).I32(1).Call(b.Import(abi.Return))
		}
		c.End()
		c.I32(OutAt).I32(1).Store8(0)
		c.I32(OutAt).Get(lTmp).Store8(1)
		c.I32(OutAt).Get(lTmp).I32(2).Add().Call(b.Import(abi.Return))
	})
	method(c, 'x', func() {
		c.Get(lBase).I32(1).Add()
		c.Get(lBase).Load8U(0)
		c.Call(b.Import(abi.StorageDelete))
	})
	method(c, 'm', func() {
		c.Get(lBase)
		rest(c)
		c.I32(VMTypeWasm)
		for i := 0; i < 5; i++ {
			c.I32(MetaAt).I32(8)
		}
		c.I32(OutAt)
		c.Call(b.Import(abi.ContractMigrate)).Drop()
		c.I32(OutAt).I32(20).Call(b.Import(abi.Return))
	})
	method(c, 'd', func() {
		c.Call(b.Import(abi.ContractDestroy))
		c.I32(AfterAt).I32(5).I32(AfterAt).I32(5).Call(b.Import(abi.StorageWrite))
	})
	method(c, 'w', func() {
		write()
		c.Loop().Br(0).End()
	})
	method(c, 'l', func() {
		c.Loop().Br(0).End()
	})
	return finish(b, c)
}

// Env exposes the chain context.
//
//	witness(addr) -> u8      check_witness result
//	addrs() -> self caller entry
//	block() -> timestamp u64, height u32, blockhash, txhash
//	notify(bytes...)         emit the remaining input as an event
//	hash(bytes...) -> h256   sha256 of the remaining input
//	echo() -> input          the raw input
//	anything else            panic with "boom"
func Env() []byte {
	b := NewBuilder(2)
	b.Data(BoomAt, []byte("boom"))
	c := &Code{}
	prologue(b, c)
	ret := b.Import(abi.Return)

	method(c, 'w', func() {
		c.I32(OutAt).Get(lBase).Call(b.Import(abi.CheckWitness)).Store8(0)
		c.I32(OutAt).I32(1).Call(ret)
	})
	method(c, 'a', func() {
		c.I32(OutAt).Call(b.Import(abi.SelfAddress))
		c.I32(OutAt + 20).Call(b.Import(abi.CallerAddress))
		c.I32(OutAt + 40).Call(b.Import(abi.EntryAddress))
		c.I32(OutAt).I32(60).Call(ret)
	})
	method(c, 'b', func() {
		c.I32(OutAt).Call(b.Import(abi.Timestamp)).Store64(0)
		c.I32(OutAt).Call(b.Import(abi.BlockHeight)).Store32(8)
		c.I32(OutAt + 12).Call(b.Import(abi.CurrentBlockHash)).Drop()
		c.I32(OutAt + 44).Call(b.Import(abi.CurrentTxHash)).Drop()
		c.I32(OutAt).I32(76).Call(ret)
	})
	method(c, 'n', func() {
		c.Get(lBase)
		rest(c)
		c.Call(b.Import(abi.Notify))
	})
	method(c, 'h', func() {
		c.Get(lBase)
		rest(c)
		c.I32(OutAt).Call(b.Import(abi.Sha256))
		c.I32(OutAt).I32(32).Call(ret)
	})
	method(c, 'e', func() {
		c.I32(InputAt).Get(lLen).Call(ret)
	})
	return finish(b, c)
}

// Proxy forwards calls to other contracts.
//
//	call(addr, input...) -> output           ontio_call_contract
//	try(addr, input...) -> status output     ontio_try_call_contract
//	new(code...) -> address                  ontio_contract_create
func Proxy() []byte {
	b := NewBuilder(2)
	b.Data(MetaAt, []byte("migrated"))
	b.Data(BoomAt, []byte("boom"))
	c := &Code{}
	prologue(b, c)
	ret := b.Import(abi.Return)
	getOut := b.Import(abi.GetCallOutput)

	args := func() {
		c.Get(lBase)
		c.Get(lBase).I32(20).Add()
		rest(c)
		c.I32(20).Sub()
	}
	method(c, 'c', func() {
		args()
		c.Call(b.Import(abi.CallContract)).Set(lTmp)
		c.I32(CallOutAt).Call(getOut)
		c.I32(CallOutAt).Get(lTmp).Call(ret)
	})
	method(c, 't', func() {
		args()
		c.Call(b.Import(abi.TryCallContract)).Set(lTmp)
		c.I32(CallOutAt).Get(lTmp).Store8(0)
		c.Get(lTmp).If()
		{
			c.I32(CallOutAt).I32(1).Call(ret)
		}
		c.End()
		c.Call(b.Import(abi.CallOutputLen)).Set(lTmp2)
		c.I32(CallOutAt + 1).Call(getOut)
		c.I32(CallOutAt).Get(lTmp2).I32(1).Add().Call(ret)
	})
	method(c, 'n', func() {
		c.Get(lBase)
		rest(c)
		c.I32(VMTypeWasm)
		for i := 0; i < 5; i++ {
			c.I32(MetaAt).I32(8)
		}
		c.I32(OutAt)
		c.Call(b.Import(abi.ContractCreate)).Drop()
		c.I32(OutAt).I32(20).Call(ret)
	})
	return finish(b, c)
}

// Float uses a floating point constant and must fail validation.
func Float() []byte {
	b := NewBuilder(1)
	expr := []byte{0x43, 0x00, 0x00, 0x80, 0x3f, wasm.OpDrop, wasm.OpEnd} // f32.const 1.0
	b.Export(abi.Entry, b.RawFunc(Void, expr))
	return b.Bytes()
}

// UnknownImport imports a function outside the host surface.
func UnknownImport() []byte {
	b := NewBuilder(1)
	b.ImportFunc(abi.Module, "ontio_unknown", Void)
	b.Export(abi.Entry, b.Func(Void, nil, &Code{}))
	return b.Bytes()
}

// NoEntry has no invoke export.
func NoEntry() []byte {
	b := NewBuilder(1)
	b.Export("main", b.Func(Void, nil, &Code{}))
	return b.Bytes()
}

// Counter runs n iterations of a loop and returns. Used to compare metering.
func Counter(n int32) []byte {
	b := NewBuilder(1)
	c := &Code{}
	c.I32(n).Set(0)
	c.Block().Loop()
	{
		c.Get(0).Eqz().BrIf(1)
		c.Get(0).I32(1).Sub().Set(0)
		c.Br(0)
	}
	c.End().End()
	b.Export(abi.Entry, b.Func(Void, []wasm.ValType{i32}, c))
	return b.Bytes()
}
