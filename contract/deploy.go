// Package contract stores contract code and implements the contract
// lifecycle: create, migrate and destroy.
package contract

import (
	"fmt"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/errors"
)

// VMType selects the virtual machine that runs a contract.
type VMType byte

const (
	VMLegacy VMType = 1
	VMWasm   VMType = 3
)

func (t VMType) String() string {
	switch t {
	case VMLegacy:
		return "legacy"
	case VMWasm:
		return "wasm"
	}
	return fmt.Sprintf("vm(%d)", byte(t))
}

// Deployment limits.
const (
	MaxCodeLen = 1 << 20
	MaxMetaLen = 252
	MaxDescLen = 65536
)

// DeployCode is a contract's code together with its metadata. Its
// serialization is what gets stored and what the address is derived from.
type DeployCode struct {
	Code    []byte
	Name    string
	Version string
	Author  string
	Email   string
	Desc    string
	VMType  VMType
}

// Check enforces the deployment limits.
func (d *DeployCode) Check() error {
	if len(d.Code) == 0 {
		return errors.InvalidInput(errors.PhaseContract, "empty code")
	}
	if len(d.Code) > MaxCodeLen {
		return errors.New(errors.PhaseContract, errors.KindInvalidInput).
			Value(len(d.Code)).
			Detail("code is %d bytes, limit %d", len(d.Code), MaxCodeLen).
			Build()
	}
	if d.VMType != VMWasm && d.VMType != VMLegacy {
		return errors.Unsupported(errors.PhaseContract, d.VMType.String())
	}
	for _, f := range []struct {
		name string
		val  string
		max  int
	}{
		{"name", d.Name, MaxMetaLen},
		{"version", d.Version, MaxMetaLen},
		{"author", d.Author, MaxMetaLen},
		{"email", d.Email, MaxMetaLen},
		{"desc", d.Desc, MaxDescLen},
	} {
		if len(f.val) > f.max {
			return errors.New(errors.PhaseContract, errors.KindInvalidInput).
				Path(f.name).
				Value(len(f.val)).
				Detail("%d bytes, limit %d", len(f.val), f.max).
				Build()
		}
	}
	return nil
}

// Serialize writes vm type, code and metadata.
func (d *DeployCode) Serialize() []byte {
	sink := common.NewZeroCopySink(make([]byte, 0, len(d.Code)+64))
	sink.WriteUint8(byte(d.VMType))
	sink.WriteVarBytes(d.Code)
	sink.WriteString(d.Name)
	sink.WriteString(d.Version)
	sink.WriteString(d.Author)
	sink.WriteString(d.Email)
	sink.WriteString(d.Desc)
	return sink.Bytes()
}

// Deserialize is the inverse of Serialize.
func Deserialize(data []byte) (*DeployCode, error) {
	src := common.NewZeroCopySource(data)
	var d DeployCode
	vm, err := src.NextByte()
	if err != nil {
		return nil, corrupt(err)
	}
	d.VMType = VMType(vm)
	code, err := src.NextVarBytes()
	if err != nil {
		return nil, corrupt(err)
	}
	d.Code = append([]byte(nil), code...)
	for _, f := range []*string{&d.Name, &d.Version, &d.Author, &d.Email, &d.Desc} {
		if *f, err = src.NextString(); err != nil {
			return nil, corrupt(err)
		}
	}
	if src.Len() != 0 {
		return nil, corrupt(fmt.Errorf("%d trailing bytes", src.Len()))
	}
	return &d, nil
}

// Address derives the contract address from the serialized form.
func (d *DeployCode) Address() common.Address {
	return common.AddressFromCode(d.Serialize())
}

func corrupt(cause error) error {
	return errors.New(errors.PhaseContract, errors.KindInvalidData).
		Cause(cause).
		Detail("contract record").
		Build()
}
