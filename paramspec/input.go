package paramspec

import (
	"fmt"

	"github.com/wippyai/chainvm/codec"
	"github.com/wippyai/chainvm/codec/crossvm"
	nativecodec "github.com/wippyai/chainvm/codec/native"
	"github.com/wippyai/chainvm/native"
)

// Input encodings.
const (
	// EncodingNative is the argument encoding WASM contracts read.
	EncodingNative = "native"
	// EncodingCrossVM is the encoding legacy contracts read.
	EncodingCrossVM = "crossvm"
	// EncodingFramed is the framing native contracts such as the ledger
	// read, with natively encoded arguments.
	EncodingFramed = "framed"
)

// Input builds invocation input for method with args in the named
// encoding. An empty encoding selects EncodingNative.
func Input(encoding, method string, args []codec.Value) ([]byte, error) {
	switch encoding {
	case "", EncodingNative:
		return nativecodec.EncodeCall(method, args...)
	case EncodingCrossVM:
		return crossvm.EncodeCall(method, args...)
	case EncodingFramed:
		var raw []byte
		for _, a := range args {
			b, err := nativecodec.Codec{}.Encode(a)
			if err != nil {
				return nil, err
			}
			raw = append(raw, b...)
		}
		return native.EncodeCall(method, raw), nil
	}
	return nil, fmt.Errorf("unknown input encoding %q", encoding)
}

// ParseInput parses params and builds the input for method.
func ParseInput(encoding, method, params string) ([]byte, error) {
	args, err := Parse(params)
	if err != nil {
		return nil, err
	}
	return Input(encoding, method, args)
}
