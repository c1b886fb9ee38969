package legacyvm

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/errors"
)

// Env is the environment of a running legacy contract.
type Env = contract.Env

// Contract is a legacy VM contract.
type Contract interface {
	Invoke(env *Env, method string, args []Value) (Value, error)
}

// Handler implements one method of a FuncContract.
type Handler func(env *Env, args []Value) (Value, error)

// FuncContract dispatches methods to Go handlers.
type FuncContract struct {
	methods map[string]Handler
}

func NewFuncContract() *FuncContract {
	return &FuncContract{methods: make(map[string]Handler)}
}

// Handle registers h for method.
func (c *FuncContract) Handle(method string, h Handler) *FuncContract {
	c.methods[method] = h
	return c
}

func (c *FuncContract) Invoke(env *Env, method string, args []Value) (Value, error) {
	h, ok := c.methods[method]
	if !ok {
		return Value{}, errors.Trap("unknown method "+method, nil)
	}
	if err := env.Ctx.ChargeSteps(env.Ctx.Costs().Opcode); err != nil {
		return Value{}, err
	}
	return h(env, args)
}

// Registry maps addresses to legacy contracts. It is safe for concurrent
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

// Lookup returns the contract bound to addr.
func (r *Registry) Lookup(addr common.Address) (Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[addr]
	return c, ok
}

// Call runs c with a cross-VM encoded input and returns the cross-VM
// encoded result.
func Call(env *Env, c Contract, input []byte) ([]byte, error) {
	method, args, err := ParseCall(input)
	if err != nil {
		return nil, err
	}
	env.Logger().Debug("legacy call", zap.Stringer("contract", env.Self), zap.String("method", method), zap.Int("args", len(args)))
	res, err := c.Invoke(env, method, args)
	if err != nil {
		return nil, err
	}
	return BuildResult(res)
}
