// Package native holds contracts implemented in Go and reachable at fixed
// addresses. A call into a native contract is framed as
//
//	version || varstring(method) || varbytes(args)
//
// where args is opaque to the runtime and usually native codec bytes.
package native

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/errors"
)

// CallVersion is the only supported call framing version.
const CallVersion byte = 0

// Contract is a Go-implemented contract.
type Contract interface {
	Invoke(env *contract.Env, method string, args []byte) ([]byte, error)
}

// EncodeCall frames a native invocation.
func EncodeCall(method string, args []byte) []byte {
	sink := common.NewZeroCopySink(make([]byte, 0, 2+len(method)+len(args)+9))
	sink.WriteUint8(CallVersion)
	sink.WriteString(method)
	sink.WriteVarBytes(args)
	return sink.Bytes()
}

// ParseCall splits a framed invocation.
func ParseCall(input []byte) (string, []byte, error) {
	src := common.NewZeroCopySource(input)
	ver, err := src.NextByte()
	if err != nil {
		return "", nil, errors.InvalidData(errors.PhaseDecode, nil, "empty native call")
	}
	if ver != CallVersion {
		return "", nil, errors.New(errors.PhaseDecode, errors.KindUnsupported).
			Value(ver).
			Detail("native call version %d", ver).
			Build()
	}
	method, err := src.NextString()
	if err != nil {
		return "", nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "native call method")
	}
	args, err := src.NextVarBytes()
	if err != nil {
		return "", nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "native call args")
	}
	if src.Len() != 0 {
		return "", nil, errors.InvalidData(errors.PhaseDecode, nil, "trailing bytes after native call")
	}
	return method, args, nil
}

// Call charges NATIVE_INVOKE, parses input and runs c.
func Call(env *contract.Env, c Contract, input []byte) ([]byte, error) {
	if err := env.Ctx.ChargeGas(env.Ctx.Costs().NativeInvoke); err != nil {
		return nil, err
	}
	method, args, err := ParseCall(input)
	if err != nil {
		return nil, err
	}
	env.Logger().Debug("native call",
		zap.Stringer("contract", env.Self),
		zap.String("method", method),
		zap.Int("args_len", len(args)))
	return c.Invoke(env, method, args)
}

// Registry maps addresses to native contracts. It is safe for concurrent
// use.
type Registry struct {
	mu        sync.RWMutex
	contracts map[common.Address]Contract
}

func NewRegistry() *Registry {
	return &Registry{contracts: make(map[common.Address]Contract)}
}

// Register binds c to addr, replacing any previous binding.
func (r *Registry) Register(addr common.Address, c Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contracts[addr] = c
}

func (r *Registry) Lookup(addr common.Address) (Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[addr]
	return c, ok
}

// Addresses lists the registered addresses in no particular order.
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.contracts))
	for a := range r.contracts {
		out = append(out, a)
	}
	return out
}
