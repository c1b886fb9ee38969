package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/chainvm/internal/wasmtest"
	"github.com/wippyai/chainvm/rpc"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log.level", "error"}, args...))
	err := root.Execute()
	require.NoError(t, a.close(context.Background()))
	return out.String(), err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", writeFile(t, "adder.wasm", wasmtest.Adder()))
	require.NoError(t, err)
	assert.Contains(t, out, "ok:")
	assert.Contains(t, out, "export invoke")

	_, err = execute(t, "validate", writeFile(t, "junk.wasm", []byte("junk")))
	assert.Error(t, err)
}

func TestInvokeWithCode(t *testing.T) {
	file := writeFile(t, "adder.wasm", wasmtest.Adder())
	out, err := execute(t, "invoke", "--code", file, "add", "u64:40,u64:2")
	require.NoError(t, err)

	var rec rpc.ReceiptReply
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "applied", rec.State)
	assert.Equal(t, "2a00000000000000", rec.Output)
}

func TestStatePersistsAcrossCommands(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, "store.wasm", wasmtest.Storage())

	out, err := execute(t, "--data-dir", dir, "invoke", "--code", file, "put", "bytearray:01,bytearray:02")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "applied"`)

	// A second deploy of the same code resolves to the existing contract.
	out, err = execute(t, "--data-dir", dir, "invoke", "--code", file, "get", "bytearray:01")
	require.NoError(t, err)
	var rec rpc.ReceiptReply
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "applied", rec.State)
	assert.Equal(t, "010102", rec.Output, "present, one byte, 0x02")
}

func TestInvokeArgs(t *testing.T) {
	_, err := execute(t, "invoke", "onlyone")
	assert.Error(t, err)
	_, err = execute(t, "invoke", "not-an-address", "m")
	assert.Error(t, err)
}

func TestBadConfig(t *testing.T) {
	_, err := execute(t, "--gas.limit", "0", "validate", "x")
	assert.Error(t, err)
}
