// Package errors provides structured error types for chainvm.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
//		Path("args", "0").
//		Detail("expected u64").
//		Build()
//
// Execution failures have dedicated constructors (OutOfGas, StepLimit,
// DepthExceeded, Trap) and sentinels for errors.Is. ResultKindOf maps any
// error onto the numeric ResultKind reported in receipts.
package errors
