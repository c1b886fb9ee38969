// Package rpc serves the runtime over JSON-RPC 2.0.
//
// Methods are registered under the ChainVM service name, so a deployment
// is the method "ChainVM.Deploy". Binary values travel as hex strings and
// addresses in their base58 form.
package rpc

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/paramspec"
	"github.com/wippyai/chainvm/runtime"
)

// ServiceName is the name the service is registered under.
const ServiceName = "ChainVM"

// Service implements the ChainVM methods.
type Service struct {
	rt     *runtime.Runtime
	log    *zap.Logger
	height atomic.Uint32
	nonce  atomic.Uint64
	now    func() time.Time
}

// NewService returns a service executing on rt. log may be nil.
func NewService(rt *runtime.Runtime, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{rt: rt, log: log, now: time.Now}
}

// DeployArgs describes a contract to deploy.
type DeployArgs struct {
	Code    string `json:"code"`
	VMType  string `json:"vmType"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Author  string `json:"author"`
	Email   string `json:"email"`
	Desc    string `json:"desc"`
}

// AddressReply carries a contract address.
type AddressReply struct {
	Address string `json:"address"`
}

// InvokeArgs describes a transaction. Input, when set, is used verbatim;
// otherwise Method and Params are encoded with Encoding.
type InvokeArgs struct {
	Contract  string   `json:"contract"`
	Input     string   `json:"input,omitempty"`
	Method    string   `json:"method,omitempty"`
	Params    string   `json:"params,omitempty"`
	Encoding  string   `json:"encoding,omitempty"`
	Sender    string   `json:"sender,omitempty"`
	Witnesses []string `json:"witnesses,omitempty"`
	GasLimit  uint64   `json:"gasLimit,omitempty"`
}

// Notification is an event in a receipt.
type Notification struct {
	Contract string `json:"contract"`
	Data     string `json:"data"`
}

// ReceiptReply reports a transaction outcome.
type ReceiptReply struct {
	State         string         `json:"state"`
	Output        string         `json:"output"`
	GasUsed       uint64         `json:"gasUsed"`
	ExecSteps     uint64         `json:"execSteps"`
	Notifications []Notification `json:"notifications"`
	Kind          string         `json:"kind,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// StorageArgs names a storage entry.
type StorageArgs struct {
	Contract string `json:"contract"`
	Key      string `json:"key"`
}

// StorageReply carries a storage value.
type StorageReply struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// ContractArgs names a contract.
type ContractArgs struct {
	Contract string `json:"contract"`
}

// ContractReply describes a deployed contract.
type ContractReply struct {
	Found    bool   `json:"found"`
	VMType   string `json:"vmType,omitempty"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Author   string `json:"author,omitempty"`
	Email    string `json:"email,omitempty"`
	Desc     string `json:"desc,omitempty"`
	CodeHash string `json:"codeHash,omitempty"`
	CodeSize int    `json:"codeSize,omitempty"`
}

// Deploy stores a contract.
func (s *Service) Deploy(r *http.Request, args *DeployArgs, reply *AddressReply) error {
	code, err := decodeHex("code", args.Code)
	if err != nil {
		return err
	}
	vm, err := ParseVMType(args.VMType)
	if err != nil {
		return err
	}
	addr, err := s.rt.Deploy(r.Context(), &contract.DeployCode{
		Code:    code,
		VMType:  vm,
		Name:    args.Name,
		Version: args.Version,
		Author:  args.Author,
		Email:   args.Email,
		Desc:    args.Desc,
	})
	if err != nil {
		return err
	}
	reply.Address = addr.String()
	return nil
}

// Invoke executes a transaction and commits it when it succeeds.
func (s *Service) Invoke(r *http.Request, args *InvokeArgs, reply *ReceiptReply) error {
	return s.run(r.Context(), args, reply, true)
}

// PreExecute executes a transaction without committing it.
func (s *Service) PreExecute(r *http.Request, args *InvokeArgs, reply *ReceiptReply) error {
	return s.run(r.Context(), args, reply, false)
}

func (s *Service) run(ctx context.Context, args *InvokeArgs, reply *ReceiptReply, commit bool) error {
	tx, err := s.transaction(args, commit)
	if err != nil {
		return err
	}
	var rec *runtime.Receipt
	if commit {
		rec, err = s.rt.Execute(ctx, tx)
	} else {
		rec, err = s.rt.PreExecute(ctx, tx)
	}
	if err != nil {
		return err
	}
	*reply = ToReceiptReply(rec)
	s.log.Debug("transaction served",
		zap.Stringer("contract", tx.Contract),
		zap.Bool("commit", commit),
		zap.Stringer("state", rec.State))
	return nil
}

func (s *Service) transaction(args *InvokeArgs, commit bool) (*runtime.Transaction, error) {
	target, err := parseAddress("contract", args.Contract)
	if err != nil {
		return nil, err
	}
	var input []byte
	if args.Input != "" {
		if input, err = decodeHex("input", args.Input); err != nil {
			return nil, err
		}
	} else if input, err = paramspec.ParseInput(args.Encoding, args.Method, args.Params); err != nil {
		return nil, err
	}

	tx := &runtime.Transaction{
		Contract:  target,
		Input:     input,
		GasLimit:  args.GasLimit,
		Timestamp: uint64(s.now().Unix()),
	}
	if args.Sender != "" {
		if tx.Sender, err = parseAddress("sender", args.Sender); err != nil {
			return nil, err
		}
	}
	for _, w := range args.Witnesses {
		a, err := parseAddress("witness", w)
		if err != nil {
			return nil, err
		}
		tx.Witnesses = append(tx.Witnesses, a)
	}

	height := s.height.Load()
	if commit {
		height = s.height.Add(1)
	}
	tx.Height = height
	tx.TxHash = s.txHash(input)
	binary.LittleEndian.PutUint32(tx.BlockHash[:], height)
	return tx, nil
}

// txHash is unique per served transaction.
func (s *Service) txHash(input []byte) common.H256 {
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], s.nonce.Add(1))
	h := sha256.New()
	h.Write(nonce[:])
	h.Write(input)
	var out common.H256
	copy(out[:], h.Sum(nil))
	return out
}

// GetStorage reads one committed storage entry.
func (s *Service) GetStorage(_ *http.Request, args *StorageArgs, reply *StorageReply) error {
	addr, err := parseAddress("contract", args.Contract)
	if err != nil {
		return err
	}
	key, err := decodeHex("key", args.Key)
	if err != nil {
		return err
	}
	val, ok, err := s.rt.GetStorage(addr, key)
	if err != nil {
		return err
	}
	reply.Found = ok
	reply.Value = hex.EncodeToString(val)
	return nil
}

// GetContract describes the contract stored at an address.
func (s *Service) GetContract(_ *http.Request, args *ContractArgs, reply *ContractReply) error {
	addr, err := parseAddress("contract", args.Contract)
	if err != nil {
		return err
	}
	d, ok, err := s.rt.GetContract(addr)
	if err != nil || !ok {
		return err
	}
	sum := sha256.Sum256(d.Code)
	*reply = ContractReply{
		Found:    true,
		VMType:   d.VMType.String(),
		Name:     d.Name,
		Version:  d.Version,
		Author:   d.Author,
		Email:    d.Email,
		Desc:     d.Desc,
		CodeHash: hex.EncodeToString(sum[:]),
		CodeSize: len(d.Code),
	}
	return nil
}

// ToReceiptReply converts a receipt to its wire form.
func ToReceiptReply(rec *runtime.Receipt) ReceiptReply {
	out := ReceiptReply{
		State:         rec.State.String(),
		Output:        hex.EncodeToString(rec.Output),
		GasUsed:       rec.GasUsed,
		ExecSteps:     rec.ExecSteps,
		Notifications: make([]Notification, 0, len(rec.Notifications)),
		Error:         rec.Error,
	}
	if rec.State != runtime.Applied {
		out.Kind = rec.Kind.String()
	}
	for _, n := range rec.Notifications {
		out.Notifications = append(out.Notifications, Notification{
			Contract: n.Contract.String(),
			Data:     hex.EncodeToString(n.Data),
		})
	}
	return out
}

// ParseVMType accepts "wasm", "legacy" or an empty string for wasm.
func ParseVMType(s string) (contract.VMType, error) {
	switch strings.ToLower(s) {
	case "", "wasm":
		return contract.VMWasm, nil
	case "legacy", "neovm":
		return contract.VMLegacy, nil
	}
	return 0, fmt.Errorf("unknown vm type %q", s)
}

func parseAddress(field, s string) (common.Address, error) {
	a, err := common.ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return a, nil
}

func decodeHex(field, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return b, nil
}
