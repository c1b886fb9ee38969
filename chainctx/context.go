// Package chainctx holds the mutable state of one transaction: block
// information, the caller stack, witnesses, and the gas, step and depth
// budgets shared by every nested call.
//
// A Context is owned by the transaction executor and passed by pointer. It
// is not safe for concurrent use.
package chainctx

import (
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
)

// Params is everything needed to start a transaction.
type Params struct {
	BlockHash common.H256
	TxHash    common.H256
	// Callers is a serialized address list; its first entry is the sender.
	Callers []byte
	// Witnesses is a serialized address list.
	Witnesses    []byte
	Input        []byte
	Timestamp    uint64
	ExecStep     uint64
	GasFactor    uint64
	GasLeft      uint64
	DepthLeft    uint64
	// ServiceIndex names the host service the transaction was submitted
	// to. It is carried for tracing and does not change the host surface.
	ServiceIndex uint64
	// StepLimit of 0 selects DefaultStepLimit.
	StepLimit uint64
	Height    uint32
	Costs     *CostTable
}

// Notification is an event emitted by a contract.
type Notification struct {
	Contract common.Address
	Data     []byte
}

// Context is the state of one transaction.
type Context struct {
	blockHash     common.H256
	txHash        common.H256
	entry         common.Address
	callers       []common.Address
	witnesses     map[common.Address]struct{}
	input         []byte
	output        *common.Buffer
	notifications []Notification
	costs         CostTable
	timestamp     uint64
	execStep      uint64
	stepLimit     uint64
	gasFactor     uint64
	gasLeft       uint64
	gasStart      uint64
	carry         uint64
	depthLeft     uint64
	serviceIndex  uint64
	height        uint32
}

// New builds a context. The callers list must hold at least the sender.
func New(p Params) (*Context, error) {
	callers, err := DecodeAddressList(p.Callers)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "callers")
	}
	if len(callers) == 0 {
		return nil, errors.InvalidInput(errors.PhaseHost, "callers must include the sender")
	}
	witnesses, err := DecodeAddressList(p.Witnesses)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidInput, err, "witnesses")
	}
	c := &Context{
		height:       p.Height,
		blockHash:    p.BlockHash,
		timestamp:    p.Timestamp,
		txHash:       p.TxHash,
		callers:      callers,
		witnesses:    make(map[common.Address]struct{}, len(witnesses)),
		input:        p.Input,
		execStep:     p.ExecStep,
		stepLimit:    p.StepLimit,
		gasFactor:    p.GasFactor,
		gasLeft:      p.GasLeft,
		gasStart:     p.GasLeft,
		depthLeft:    p.DepthLeft,
		serviceIndex: p.ServiceIndex,
		costs:        DefaultCosts(),
		output:       common.NewBuffer(nil),
	}
	for _, w := range witnesses {
		c.witnesses[w] = struct{}{}
	}
	if c.stepLimit == 0 {
		c.stepLimit = DefaultStepLimit
	}
	if c.gasFactor == 0 {
		c.gasFactor = 1
	}
	if p.Costs != nil {
		c.costs = *p.Costs
	}
	return c, nil
}

// EncodeAddressList serializes addrs as a varuint count and raw addresses.
func EncodeAddressList(addrs ...common.Address) []byte {
	sink := common.NewZeroCopySink(make([]byte, 0, 1+len(addrs)*common.AddrLen))
	sink.WriteVarUint(uint64(len(addrs)))
	for _, a := range addrs {
		sink.WriteAddress(a)
	}
	return sink.Bytes()
}

// DecodeAddressList parses EncodeAddressList output. Empty input is an
// empty list.
func DecodeAddressList(data []byte) ([]common.Address, error) {
	if len(data) == 0 {
		return nil, nil
	}
	src := common.NewZeroCopySource(data)
	n, err := src.NextVarUint()
	if err != nil {
		return nil, err
	}
	if n > uint64(src.Len()/common.AddrLen) {
		return nil, errors.OutOfBounds(errors.PhaseDecode, nil, int(n), src.Len()/common.AddrLen)
	}
	out := make([]common.Address, n)
	for i := range out {
		if out[i], err = src.NextAddress(); err != nil {
			return nil, err
		}
	}
	if src.Len() != 0 {
		return nil, errors.InvalidData(errors.PhaseDecode, nil, "trailing bytes after address list")
	}
	return out, nil
}

func (c *Context) Height() uint32            { return c.height }
func (c *Context) BlockHash() common.H256    { return c.blockHash }
func (c *Context) Timestamp() uint64         { return c.timestamp }
func (c *Context) TxHash() common.H256       { return c.txHash }
func (c *Context) ServiceIndex() uint64      { return c.serviceIndex }
func (c *Context) Costs() CostTable          { return c.costs }
func (c *Context) ExecStep() uint64          { return c.execStep }
func (c *Context) StepLimit() uint64         { return c.stepLimit }
func (c *Context) GasLeft() uint64           { return c.gasLeft }
func (c *Context) GasUsed() uint64           { return c.gasStart - c.gasLeft }
func (c *Context) DepthLeft() uint64         { return c.depthLeft }
func (c *Context) Entry() common.Address     { return c.entry }
func (c *Context) SetEntry(a common.Address) { c.entry = a }

// Input is the input of the running invocation.
func (c *Context) Input() []byte { return c.input }

// SwapInput installs the input of a new invocation and returns the previous
// one so the caller can restore it.
func (c *Context) SwapInput(in []byte) []byte {
	prev := c.input
	c.input = in
	return prev
}

// Sender is the bottom of the caller stack.
func (c *Context) Sender() common.Address { return c.callers[0] }

// Caller is the top of the caller stack: the account or contract that
// invoked the running contract.
func (c *Context) Caller() common.Address { return c.callers[len(c.callers)-1] }

// PushCaller records addr as the caller of a nested invocation.
func (c *Context) PushCaller(addr common.Address) {
	c.callers = append(c.callers, addr)
}

// PopCaller removes the top of the caller stack. The sender is never
// removed.
func (c *Context) PopCaller() (common.Address, bool) {
	if len(c.callers) <= 1 {
		return common.Address{}, false
	}
	top := c.callers[len(c.callers)-1]
	c.callers = c.callers[:len(c.callers)-1]
	return top, true
}

// Depth is the current nesting level; 0 for the top level invocation.
func (c *Context) Depth() int { return len(c.callers) - 1 }

// Callers returns a copy of the caller stack, sender first.
func (c *Context) Callers() []common.Address {
	return append([]common.Address(nil), c.callers...)
}

// CheckWitness reports whether addr signed the transaction or is the
// contract that directly called the running one.
func (c *Context) CheckWitness(addr common.Address) bool {
	if _, ok := c.witnesses[addr]; ok {
		return true
	}
	return len(c.callers) > 1 && c.Caller() == addr
}

// ChargeSteps accounts for n executed steps and converts them to gas at
// the gas factor. Remainders carry over to the next charge.
func (c *Context) ChargeSteps(n uint64) error {
	c.execStep += n
	if c.execStep > c.stepLimit {
		return errors.StepLimit(c.execStep, c.stepLimit)
	}
	total := c.carry + n
	c.carry = total % c.gasFactor
	return c.ChargeGas(total / c.gasFactor)
}

// ChargeGas debits n gas. When not enough is left the balance drops to
// zero and OutOfGas is returned.
func (c *Context) ChargeGas(n uint64) error {
	if n > c.gasLeft {
		left := c.gasLeft
		c.gasLeft = 0
		return errors.OutOfGas(n, left)
	}
	c.gasLeft -= n
	return nil
}

// ConsumeDepth takes one unit of call depth. Depth is never given back
// within a transaction.
func (c *Context) ConsumeDepth() error {
	if c.depthLeft == 0 {
		return errors.DepthExceeded()
	}
	c.depthLeft--
	return nil
}

// CallOutput is the output of the most recently completed invocation.
func (c *Context) CallOutput() []byte { return c.output.Bytes() }

// SetCallOutput replaces the call output with a copy of out.
func (c *Context) SetCallOutput(out []byte) {
	next := common.NewBuffer(out)
	c.output.Release()
	c.output = next
}

// ClearCallOutput empties the call output.
func (c *Context) ClearCallOutput() { c.SetCallOutput(nil) }

// Notify records an event.
func (c *Context) Notify(contract common.Address, data []byte) {
	c.notifications = append(c.notifications, Notification{
		Contract: contract,
		Data:     append([]byte(nil), data...),
	})
}

// Notifications returns the events emitted so far.
func (c *Context) Notifications() []Notification { return c.notifications }

// Close releases pooled buffers.
func (c *Context) Close() {
	c.output.Release()
}
