package native

import (
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/codec"
	nativecodec "github.com/wippyai/chainvm/codec/native"
	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/storage"
)

// LedgerAddress is where the built-in ledger lives.
var LedgerAddress = common.Address{19: 0x01}

const ledgerName = "ledger"

var balancePrefix = []byte("bal")

// Ledger is a fungible balance table. Balances are u128 values in the
// native encoding, stored under the ledger's own storage.
//
// Methods, arguments in the native encoding:
//
//	name()                                    -> string
//	balanceOf(owner address)                  -> u128
//	transfer(from address, to address, u128)  -> bool
//
// transfer requires a witness for from.
type Ledger struct{}

func balanceKey(owner common.Address) []byte {
	return append(append([]byte(nil), balancePrefix...), owner[:]...)
}

func decodeBalance(raw []byte) (*uint256.Int, error) {
	v, err := nativecodec.Codec{}.Decode(raw, codec.Of(codec.KindU128))
	if err != nil {
		return nil, err
	}
	return v.Uint256(), nil
}

func encodeBalance(z *uint256.Int) ([]byte, error) {
	v, err := codec.Integer(codec.KindU128, z.ToBig())
	if err != nil {
		return nil, err
	}
	return nativecodec.Codec{}.Encode(v)
}

func (l Ledger) balance(env *contract.Env, owner common.Address) (*uint256.Int, error) {
	raw, ok, err := env.StorageGet(balanceKey(owner))
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return decodeBalance(raw)
}

func (l Ledger) setBalance(env *contract.Env, owner common.Address, z *uint256.Int) error {
	if z.IsZero() {
		return env.StorageDelete(balanceKey(owner))
	}
	raw, err := encodeBalance(z)
	if err != nil {
		return err
	}
	return env.StoragePut(balanceKey(owner), raw)
}

func (l Ledger) Invoke(env *contract.Env, method string, args []byte) ([]byte, error) {
	var c nativecodec.Codec
	switch method {
	case "name":
		return c.Encode(codec.String(ledgerName))

	case "balanceOf":
		v, err := c.Decode(args, codec.Of(codec.KindAddress))
		if err != nil {
			return nil, err
		}
		z, err := l.balance(env, v.AsAddress())
		if err != nil {
			return nil, err
		}
		return encodeBalance(z)

	case "transfer":
		v, err := c.Decode(args, codec.TupleOf(
			codec.Of(codec.KindAddress),
			codec.Of(codec.KindAddress),
			codec.Of(codec.KindU128),
		))
		if err != nil {
			return nil, err
		}
		items := v.Items()
		from, to, amount := items[0].AsAddress(), items[1].AsAddress(), items[2].Uint256()
		if err := l.transfer(env, from, to, amount); err != nil {
			return nil, err
		}
		return c.Encode(codec.Bool(true))
	}
	return nil, errors.Trap("ledger: unknown method "+method, nil)
}

func (l Ledger) transfer(env *contract.Env, from, to common.Address, amount *uint256.Int) error {
	ok, err := env.CheckWitness(from)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Trap("ledger: no witness for "+from.String(), nil)
	}
	fromBal, err := l.balance(env, from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return errors.Trap("ledger: insufficient balance", nil)
	}
	if from == to {
		return nil
	}
	toBal, err := l.balance(env, to)
	if err != nil {
		return err
	}
	if err := l.setBalance(env, from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := l.setBalance(env, to, new(uint256.Int).Add(toBal, amount)); err != nil {
		return err
	}

	sink := common.NewZeroCopySink(nil)
	sink.WriteString("transfer")
	sink.WriteAddress(from)
	sink.WriteAddress(to)
	sink.WriteBytes(amount.PaddedBytes(16))
	env.Notify(sink.Bytes())
	env.Logger().Debug("ledger transfer",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("amount", amount))
	return nil
}

// Credit adds amount to owner's balance without charging gas. It is meant
// for genesis state and tests.
func Credit(st contract.Store, owner common.Address, amount *uint256.Int) error {
	key := storage.StorageKey(LedgerAddress, balanceKey(owner))
	cur := new(uint256.Int)
	raw, ok, err := st.Get(key)
	if err != nil {
		return err
	}
	if ok {
		if cur, err = decodeBalance(raw); err != nil {
			return err
		}
	}
	next, err := encodeBalance(new(uint256.Int).Add(cur, amount))
	if err != nil {
		return err
	}
	st.Put(key, next)
	return nil
}

// Balance reads owner's balance without charging gas.
func Balance(st contract.Reader, owner common.Address) (*uint256.Int, error) {
	raw, ok, err := st.Get(storage.StorageKey(LedgerAddress, balanceKey(owner)))
	if err != nil || !ok {
		return new(uint256.Int), err
	}
	return decodeBalance(raw)
}
