package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/common"
	"github.com/wippyai/chainvm/contract"
	"github.com/wippyai/chainvm/engine"
	"github.com/wippyai/chainvm/errors"
	"github.com/wippyai/chainvm/legacyvm"
	"github.com/wippyai/chainvm/metrics"
	"github.com/wippyai/chainvm/paramspec"
	"github.com/wippyai/chainvm/rpc"
	"github.com/wippyai/chainvm/runtime"
	"github.com/wippyai/chainvm/wasm"
)

// codeFlags describe a contract read from a file.
type codeFlags struct {
	vm      string
	hex     bool
	name    string
	version string
	author  string
	email   string
	desc    string
}

func (f *codeFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.vm, "vm", "wasm", "vm type: wasm or legacy")
	fs.BoolVar(&f.hex, "hex", false, "the file holds hex instead of raw bytes")
	fs.StringVar(&f.name, "name", "", "contract name")
	fs.StringVar(&f.version, "version", "", "contract version")
	fs.StringVar(&f.author, "author", "", "contract author")
	fs.StringVar(&f.email, "email", "", "author email")
	fs.StringVar(&f.desc, "desc", "", "contract description")
}

func (f *codeFlags) load(path string) (*contract.DeployCode, error) {
	code, err := readCode(path, f.hex)
	if err != nil {
		return nil, err
	}
	vm, err := rpc.ParseVMType(f.vm)
	if err != nil {
		return nil, err
	}
	return &contract.DeployCode{
		Code:    code,
		VMType:  vm,
		Name:    f.name,
		Version: f.version,
		Author:  f.author,
		Email:   f.email,
		Desc:    f.desc,
	}, nil
}

func readCode(path string, isHex bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !isHex {
		return data, nil
	}
	code, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(data)), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}

// deploy stores d, treating an identical earlier deployment as success.
func deploy(ctx context.Context, rt *runtime.Runtime, d *contract.DeployCode) (common.Address, error) {
	addr, err := rt.Deploy(ctx, d)
	if stderrors.Is(err, errors.ErrContractExists) {
		return d.Address(), nil
	}
	return addr, err
}

func newValidateCmd(a *app) *cobra.Command {
	var f codeFlags
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that a contract would be accepted for deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.load(args[0])
			if err != nil {
				return err
			}
			if err := d.Check(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if d.VMType == contract.VMLegacy {
				if err := legacyvm.ParseScript(d.Code); err != nil {
					return err
				}
				fmt.Fprintf(out, "ok: legacy script, %d bytes\n", len(d.Code))
				return nil
			}

			cfg := a.cfg.EngineConfig(a.log.Named("engine"))
			eng, err := engine.New(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			defer eng.Close(cmd.Context())
			m, err := eng.Validate(d.Code)
			if err != nil {
				return err
			}
			printModule(out, m)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func printModule(w io.Writer, m *wasm.Module) {
	fmt.Fprintf(w, "ok: %d functions, %d bytes of code\n", len(m.Funcs), codeSize(m))
	for _, imp := range m.Imports {
		if imp.Kind == wasm.KindFunc {
			fmt.Fprintf(w, "  import %s.%s\n", imp.Module, imp.Name)
		}
	}
	for _, exp := range m.Exports {
		fmt.Fprintf(w, "  export %s\n", exp.Name)
	}
}

func codeSize(m *wasm.Module) int {
	n := 0
	for _, b := range m.Code {
		n += len(b.Code)
	}
	return n
}

func newDeployCmd(a *app) *cobra.Command {
	var f codeFlags
	cmd := &cobra.Command{
		Use:   "deploy <file>",
		Short: "Deploy a contract into the state directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := f.load(args[0])
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			addr, err := rt.Deploy(cmd.Context(), d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nhex:     %s\ngas:     %d\n",
				addr, addr.Hex(), rt.DeployGas(d))
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

type invokeFlags struct {
	code      codeFlags
	codeFile  string
	encoding  string
	input     string
	sender    string
	witnesses []string
	gas       uint64
	dryRun    bool
}

func newInvokeCmd(a *app) *cobra.Command {
	var f invokeFlags
	cmd := &cobra.Command{
		Use:   "invoke <contract> <method> [params]",
		Short: "Run a transaction against a contract",
		Long: `Run a transaction and print its receipt as JSON.

Params use the typed list syntax, for example
  u64:1,string:hello,[int:1,int:2]

With --code the file is deployed first and the contract argument is
left out: chainvm invoke --code adder.wasm add u64:1,u64:2`,
		Args: func(cmd *cobra.Command, args []string) error {
			lo := 2
			if f.codeFile != "" {
				lo = 1
			}
			if f.input != "" {
				lo--
			}
			return cobra.RangeArgs(lo, lo+1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx, nil)
			if err != nil {
				return err
			}
			var target common.Address
			if f.codeFile != "" {
				d, err := f.code.load(f.codeFile)
				if err != nil {
					return err
				}
				if target, err = deploy(ctx, rt, d); err != nil {
					return err
				}
			} else {
				if target, err = common.ParseAddress(args[0]); err != nil {
					return err
				}
				args = args[1:]
			}

			tx, err := f.transaction(target, args)
			if err != nil {
				return err
			}
			run := rt.Execute
			if f.dryRun {
				run = rt.PreExecute
			}
			rec, err := run(ctx, tx)
			if err != nil {
				return err
			}
			a.log.Debug("invoked", zap.Stringer("contract", target), zap.Stringer("state", rec.State))
			return printJSON(cmd.OutOrStdout(), rpc.ToReceiptReply(rec))
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.codeFile, "code", "", "deploy this file and invoke it")
	fs.StringVar(&f.code.vm, "vm", "wasm", "vm type of --code: wasm or legacy")
	fs.BoolVar(&f.code.hex, "hex", false, "--code holds hex instead of raw bytes")
	fs.StringVar(&f.encoding, "encoding", "", "input encoding: native, crossvm or framed")
	fs.StringVar(&f.input, "input", "", "raw hex input, replaces method and params")
	fs.StringVar(&f.sender, "sender", "", "sender address")
	fs.StringSliceVar(&f.witnesses, "witness", nil, "signer address, repeatable")
	fs.Uint64Var(&f.gas, "gas", 0, "gas limit, the configured gas.limit when zero")
	fs.BoolVar(&f.dryRun, "dry-run", false, "execute without committing")
	return cmd
}

func (f *invokeFlags) transaction(target common.Address, args []string) (*runtime.Transaction, error) {
	var (
		input []byte
		err   error
	)
	switch {
	case f.input != "":
		input, err = hex.DecodeString(strings.TrimPrefix(f.input, "0x"))
	case len(args) == 2:
		input, err = paramspec.ParseInput(f.encoding, args[0], args[1])
	default:
		input, err = paramspec.ParseInput(f.encoding, args[0], "")
	}
	if err != nil {
		return nil, err
	}

	tx := &runtime.Transaction{
		Contract:  target,
		Input:     input,
		GasLimit:  f.gas,
		Timestamp: uint64(time.Now().Unix()),
	}
	if f.sender != "" {
		if tx.Sender, err = common.ParseAddress(f.sender); err != nil {
			return nil, fmt.Errorf("sender: %w", err)
		}
	}
	for _, w := range f.witnesses {
		addr, err := common.ParseAddress(w)
		if err != nil {
			return nil, fmt.Errorf("witness: %w", err)
		}
		tx.Witnesses = append(tx.Witnesses, addr)
	}
	return tx, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON-RPC API and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			rt, err := a.runtime(ctx, m)
			if err != nil {
				return err
			}
			h, err := rpc.Handler(rt, m, a.log.Named("rpc"))
			if err != nil {
				return err
			}
			return rpc.Serve(ctx, a.cfg.RPCAddr, h, a.log.Named("rpc"))
		},
	}
}
