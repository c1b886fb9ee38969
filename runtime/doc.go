// Package runtime executes contract transactions.
//
// # Quick Start
//
//	store, err := storage.Open("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rt, err := runtime.New(ctx, store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	addr, err := rt.Deploy(ctx, &contract.DeployCode{Code: code, VMType: contract.VMWasm})
//	input, _ := nativecodec.EncodeCall("add", codec.U64(1), codec.U64(2))
//	rec, err := rt.Execute(ctx, &runtime.Transaction{
//	    Contract: addr,
//	    Input:    input,
//	    Sender:   sender,
//	})
//
// # Transactions
//
// Each transaction gets its own chain context and a storage overlay. The
// overlay is committed in one batch when the transaction succeeds and
// dropped otherwise, so a failed transaction never leaves writes behind.
// The gas, step and depth budgets are shared by every nested call.
//
// # Dispatch
//
// A call to an address goes to the first of:
//
//	native contracts    RegisterNative, framed input, NATIVE_INVOKE gas
//	legacy contracts    RegisterLegacy, cross-VM encoded input
//	stored code         WASM modules or legacy scripts deployed to the store
//
// Nested calls from WASM contracts use one unit of depth each and push the
// calling contract on the caller stack for the duration of the call.
package runtime
