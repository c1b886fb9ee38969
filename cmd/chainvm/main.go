// Command chainvm deploys and invokes contracts against a local state
// directory and serves the JSON-RPC API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/config"
	"github.com/wippyai/chainvm/engine"
	"github.com/wippyai/chainvm/metrics"
	"github.com/wippyai/chainvm/runtime"
	"github.com/wippyai/chainvm/storage"
)

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	if cerr := a.close(context.Background()); cerr != nil {
		fmt.Fprintln(os.Stderr, "Error:", cerr)
		err = cerr
	}
	if err != nil {
		os.Exit(1)
	}
}

// app holds what the subcommands share once flags are parsed.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	closers []func(context.Context) error
}

// quietAnnotation marks commands that own the terminal. They log only
// when a log file is configured.
const quietAnnotation = "chainvm/quiet"

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "chainvm",
		Short:        "Sandboxed WASM contract runtime",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	config.AddFlags(root.PersistentFlags())
	root.AddCommand(
		newValidateCmd(a),
		newDeployCmd(a),
		newInvokeCmd(a),
		newServeCmd(a),
		newInteractiveCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	_, quiet := cmd.Annotations[quietAnnotation]
	if a.log, err = newLogger(cfg, quiet); err != nil {
		return err
	}
	a.closers = append(a.closers, func(context.Context) error {
		_ = a.log.Sync()
		return nil
	})
	engine.SetLogger(a.log.Named("engine"))

	if cfg.TraceEndpoint != "" {
		tp, err := newTracerProvider(cmd.Context(), cfg.TraceEndpoint)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		otel.SetTracerProvider(tp)
		a.closers = append(a.closers, tp.Shutdown)
		a.log.Info("tracing enabled", zap.String("endpoint", cfg.TraceEndpoint))
	}
	return nil
}

// close runs the closers in reverse order and returns the first error.
func (a *app) close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// runtime opens the state store and a runtime over it. Both are closed
// by close.
func (a *app) runtime(ctx context.Context, m *metrics.Metrics) (*runtime.Runtime, error) {
	var (
		store *storage.LevelStore
		err   error
	)
	if a.cfg.DataDir == "" {
		store, err = storage.OpenMemory()
	} else {
		store, err = storage.Open(a.cfg.DataDir)
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	opts := append(a.cfg.RuntimeOptions(a.log), runtime.WithTracerProvider(otel.GetTracerProvider()))
	if m != nil {
		opts = append(opts, runtime.WithMetrics(m))
	}
	rt, err := runtime.New(ctx, store, opts...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rt.Close)
	return rt, nil
}
