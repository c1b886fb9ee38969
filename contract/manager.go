package contract

import (
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/storage"
)

// Reader is the read side of transaction state.
type Reader interface {
	Get(key []byte) ([]byte, bool, error)
	Prefix(prefix []byte) ([]storage.KV, error)
}

// Store is transaction state. *storage.Overlay implements it.
type Store interface {
	Reader
	Put(key, value []byte)
	Delete(key []byte)
}

// CodeValidator checks code before it is stored, for example by running the
// WASM validator for VMWasm code.
type CodeValidator func(d *DeployCode) error

// Manager implements the contract lifecycle against a Store.
type Manager struct {
	validate CodeValidator
	log      *zap.Logger
}

// NewManager builds a manager. A nil validator only applies the size
// limits; a nil logger discards output.
func NewManager(validate CodeValidator, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{validate: validate, log: log}
}

// Get loads the contract stored at addr.
func Get(st Reader, addr common.Address) (*DeployCode, bool, error) {
	raw, ok, err := st.Get(storage.ContractKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	d, err := Deserialize(raw)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// Exists reports whether code is stored at addr.
func Exists(st Reader, addr common.Address) (bool, error) {
	_, ok, err := st.Get(storage.ContractKey(addr))
	return ok, err
}

func (m *Manager) check(st Reader, d *DeployCode) (common.Address, error) {
	if err := d.Check(); err != nil {
		return common.Address{}, err
	}
	if m.validate != nil {
		if err := m.validate(d); err != nil {
			return common.Address{}, err
		}
	}
	addr := d.Address()
	ok, err := Exists(st, addr)
	if err != nil {
		return common.Address{}, err
	}
	if ok {
		return common.Address{}, errors.New(errors.PhaseContract, errors.KindContractExists).
			Value(addr).
			Detail("contract %s already exists", addr).
			Build()
	}
	return addr, nil
}

// Create validates and stores d, returning its address.
func (m *Manager) Create(st Store, d *DeployCode) (common.Address, error) {
	addr, err := m.check(st, d)
	if err != nil {
		return common.Address{}, err
	}
	st.Put(storage.ContractKey(addr), d.Serialize())
	m.log.Debug("contract created",
		zap.Stringer("contract", addr),
		zap.Stringer("vm", d.VMType),
		zap.Int("code_len", len(d.Code)))
	return addr, nil
}

// Migrate replaces the contract at from with d. The new code is stored, the
// old code removed and every storage record of from moved under the new
// address.
func (m *Manager) Migrate(st Store, from common.Address, d *DeployCode) (common.Address, error) {
	ok, err := Exists(st, from)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, NotFound(from)
	}
	to, err := m.check(st, d)
	if err != nil {
		return common.Address{}, err
	}

	st.Put(storage.ContractKey(to), d.Serialize())
	st.Delete(storage.ContractKey(from))

	records, err := st.Prefix(storage.StoragePrefix(from))
	if err != nil {
		return common.Address{}, err
	}
	for _, kv := range records {
		st.Put(storage.StorageKey(to, storage.SplitStorageKey(kv.Key)), kv.Value)
		st.Delete(kv.Key)
	}
	m.log.Debug("contract migrated",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("records", len(records)))
	return to, nil
}

// Destroy removes the code and every storage record of addr. It returns the
// number of storage records removed.
func (m *Manager) Destroy(st Store, addr common.Address) (int, error) {
	ok, err := Exists(st, addr)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, NotFound(addr)
	}
	st.Delete(storage.ContractKey(addr))
	records, err := st.Prefix(storage.StoragePrefix(addr))
	if err != nil {
		return 0, err
	}
	for _, kv := range records {
		st.Delete(kv.Key)
	}
	m.log.Debug("contract destroyed", zap.Stringer("contract", addr), zap.Int("records", len(records)))
	return len(records), nil
}

// NotFound reports that no contract is stored at addr.
func NotFound(addr common.Address) error {
	return errors.New(errors.PhaseContract, errors.KindContractNotFound).
		Value(addr).
		Detail("no contract at %s", addr).
		Build()
}
