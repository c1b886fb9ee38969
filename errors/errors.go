package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseValidate Phase = "validate" // bytecode validation
	PhaseCompile  Phase = "compile"  // instrumentation and compilation
	PhaseLink     Phase = "link"     // import resolution
	PhaseRuntime  Phase = "runtime"  // guest execution
	PhaseHost     Phase = "host"     // host function registration and calls
	PhaseEncode   Phase = "encode"   // value to bytes
	PhaseDecode   Phase = "decode"   // bytes to value
	PhaseStorage  Phase = "storage"  // backing store
	PhaseContract Phase = "contract" // deploy, migrate, destroy
	PhaseParse    Phase = "parse"    // param strings and config
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch     Kind = "type_mismatch"
	KindOutOfBounds      Kind = "out_of_bounds"
	KindInvalidData      Kind = "invalid_data"
	KindUnsupported      Kind = "unsupported"
	KindOverflow         Kind = "overflow"
	KindMissingImport    Kind = "missing_import"
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindRegistration     Kind = "registration"
	KindInstantiation    Kind = "instantiation"
	KindOutOfGas         Kind = "out_of_gas"
	KindStepLimit        Kind = "step_limit"
	KindDepthExceeded    Kind = "depth_exceeded"
	KindTrap             Kind = "trap"
	KindContractExists   Kind = "contract_exists"
	KindContractNotFound Kind = "contract_not_found"
	KindInternal         Kind = "internal"
)

// Error is the structured error type used throughout chainvm
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinels for errors.Is checks. Only Phase and Kind are compared.
var (
	ErrOutOfGas         = &Error{Phase: PhaseRuntime, Kind: KindOutOfGas}
	ErrStepLimit        = &Error{Phase: PhaseRuntime, Kind: KindStepLimit}
	ErrDepthExceeded    = &Error{Phase: PhaseRuntime, Kind: KindDepthExceeded}
	ErrTrap             = &Error{Phase: PhaseRuntime, Kind: KindTrap}
	ErrContractExists   = &Error{Phase: PhaseContract, Kind: KindContractExists}
	ErrContractNotFound = &Error{Phase: PhaseContract, Kind: KindContractNotFound}
)

// Convenience constructors for common error patterns

// Validation creates a bytecode validation error
func Validation(path []string, detail string, args ...any) *Error {
	return New(PhaseValidate, KindInvalidData).Path(path...).Detail(detail, args...).Build()
}

// Unsupported creates an unsupported feature error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// TypeMismatch creates a shape mismatch error
func TypeMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v overflows %s", value, target),
		Value:  value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not found error
func NotFound(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a host function registration error
func Registration(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindInstantiation,
		Detail: detail,
		Cause:  cause,
	}
}

// Compile wraps a compilation failure
func Compile(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Storage wraps a backing store failure
func Storage(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseStorage,
		Kind:   KindInternal,
		Detail: detail,
		Cause:  cause,
	}
}

// OutOfGas reports an exhausted gas budget
func OutOfGas(need, left uint64) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindOutOfGas,
		Detail: fmt.Sprintf("need %d, have %d", need, left),
	}
}

// StepLimit reports an exceeded execution step budget
func StepLimit(steps, limit uint64) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindStepLimit,
		Detail: fmt.Sprintf("%d steps exceed limit %d", steps, limit),
	}
}

// DepthExceeded reports an exhausted call depth budget
func DepthExceeded() *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindDepthExceeded,
		Detail: "call depth budget exhausted",
	}
}

// Trap creates a guest abort error carrying the guest message
func Trap(msg string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindTrap,
		Detail: msg,
		Cause:  cause,
	}
}

// As returns the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Namespace string // e.g., "env"
	Function  string // e.g., "ontio_storage_read"
}

// MissingImportsError is returned when a module imports functions the resolver does not provide
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "namespace#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ns, fn, _ := strings.Cut(imp, "#")
		result.Imports = append(result.Imports, MissingImport{
			Namespace: ns,
			Function:  fn,
		})
	}
	return result
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[link] missing_import: no imports specified"
	}

	byNamespace := make(map[string][]string)
	for _, imp := range e.Imports {
		byNamespace[imp.Namespace] = append(byNamespace[imp.Namespace], imp.Function)
	}
	namespaces := make([]string, 0, len(byNamespace))
	for ns := range byNamespace {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	var b strings.Builder
	b.WriteString("[link] missing_import: ")
	b.WriteString(fmt.Sprintf("%d unresolved", len(e.Imports)))
	for _, ns := range namespaces {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(": ")
		b.WriteString(strings.Join(byNamespace[ns], ", "))
	}
	return b.String()
}

// Is makes MissingImportsError match the link/missing_import sentinel
func (e *MissingImportsError) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Phase == PhaseLink && t.Kind == KindMissingImport
	}
	return false
}

// ErrMissingImport matches any MissingImportsError.
var ErrMissingImport = &Error{Phase: PhaseLink, Kind: KindMissingImport}

// ResultKind is the numeric failure category reported to embedders
type ResultKind uint32

const (
	ResultOK ResultKind = iota
	ResultInternal
	ResultCompile
	ResultLink
	ResultTrap
	ResultOutOfGas
	ResultStepLimit
	ResultDepth
	ResultValidation
)

var resultNames = [...]string{
	"ok", "internal", "compile", "link", "trap", "out_of_gas", "step_limit", "depth_exceeded", "validation",
}

func (k ResultKind) String() string {
	if int(k) < len(resultNames) {
		return resultNames[k]
	}
	return fmt.Sprintf("result(%d)", uint32(k))
}

// ResultKindOf maps an error onto its ResultKind. A nil error is ResultOK.
func ResultKindOf(err error) ResultKind {
	if err == nil {
		return ResultOK
	}
	var missing *MissingImportsError
	if stderrors.As(err, &missing) {
		return ResultLink
	}
	e, ok := As(err)
	if !ok {
		return ResultInternal
	}
	switch e.Kind {
	case KindOutOfGas:
		return ResultOutOfGas
	case KindStepLimit:
		return ResultStepLimit
	case KindDepthExceeded:
		return ResultDepth
	case KindTrap:
		return ResultTrap
	}
	switch e.Phase {
	case PhaseValidate:
		return ResultValidation
	case PhaseCompile:
		return ResultCompile
	case PhaseLink:
		return ResultLink
	case PhaseRuntime, PhaseHost, PhaseContract, PhaseDecode, PhaseEncode:
		return ResultTrap
	}
	return ResultInternal
}
