package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"

	"github.com/wippyai/chainvm/metrics"
	"github.com/wippyai/chainvm/runtime"
)

// Paths served by Handler.
const (
	RPCPath     = "/rpc"
	MetricsPath = "/metrics"
)

// NewRPCServer returns a JSON-RPC 2.0 server with svc registered.
func NewRPCServer(svc *Service) (*rpc.Server, error) {
	s := rpc.NewServer()
	codec := json2.NewCodec()
	s.RegisterCodec(codec, "application/json")
	s.RegisterCodec(codec, "application/json;charset=UTF-8")
	if err := s.RegisterService(svc, ServiceName); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler mounts the RPC service and, when m is not nil, the metrics
// endpoint.
func Handler(rt *runtime.Runtime, m *metrics.Metrics, log *zap.Logger) (http.Handler, error) {
	s, err := NewRPCServer(NewService(rt, log))
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(RPCPath, s)
	if m != nil {
		mux.Handle(MetricsPath, m.Handler())
	}
	return mux, nil
}

// Serve listens on addr until ctx is done, then shuts the server down.
func Serve(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	log.Info("rpc listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	if err := <-done; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
