package sdkserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"chromite/internal/buildapi"
	"chromite/internal/logging"
	"chromite/internal/services"
)

// ErrAlreadyRunning is returned when another server holds the socket lock.
var ErrAlreadyRunning = errors.New("sdk server already running")

// Server exposes a Build API router via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	lock      *flock.Flock
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
}

// NewServer takes the socket lock and listens at path.
func NewServer(ctx context.Context, path string, router *buildapi.Router, logger *slog.Logger) (*Server, error) {
	if router == nil {
		return nil, errors.New("sdk server requires a router")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "sdkserver")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock socket: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
	}

	if err := os.RemoveAll(path); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	svc := &service{router: router, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(rpcName, svc); err != nil {
		cancel()
		listener.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		lock:      lock,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     map[net.Conn]struct{}{},
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("sdk server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "sdkserver_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "Build API clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the server"))
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Close stops the server, removes the socket and releases the lock.
// Connected clients are disconnected; in-flight calls see a canceled
// context.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	s.closing = true
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "sdkserver_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
	_ = s.lock.Unlock()
}

const rpcName = "BuildAPI"

type service struct {
	router *buildapi.Router
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) ListMethods(_ ListMethodsRequest, resp *ListMethodsResponse) error {
	resp.Methods = s.router.ListMethods()
	return nil
}

// Call routes one request. Dispatch failures are reported in the response
// so the client still sees the return code.
func (s *service) Call(req CallRequest, resp *CallResponse) error {
	resp.RequestID = req.RequestID
	if resp.RequestID == "" {
		resp.RequestID = uuid.NewString()
	}
	ctx := services.WithRequestID(s.ctx, resp.RequestID)
	logger := logging.WithContext(ctx, s.logger).With(
		logging.String("service", req.Service),
		logging.String("method", req.Method))

	cfg, err := buildapi.ConfigFromMessage(buildapi.ConfigMessage{CallType: buildapi.CallType(req.CallType)})
	if err != nil {
		resp.ReturnCode = buildapi.ReturnCodeUnrecoverable
		resp.Error = err.Error()
		return nil
	}

	rc, output, err := s.route(ctx, req, cfg)
	resp.ReturnCode = rc
	resp.Output = output
	if err != nil {
		resp.Error = err.Error()
		if resp.ReturnCode == buildapi.ReturnCodeSuccess {
			resp.ReturnCode = buildapi.ReturnCodeForError(err)
		}
		logger.Warn("build api call failed", logging.Int("return_code", resp.ReturnCode), logging.Error(err))
		return nil
	}
	logger.Info("build api call completed", logging.Int("return_code", rc))
	return nil
}

// route stages the request in a scratch dir so the router can re-execute
// it elsewhere with the same files.
func (s *service) route(ctx context.Context, req CallRequest, cfg buildapi.Config) (int, json.RawMessage, error) {
	dir, err := os.MkdirTemp("", "sdk-server-")
	if err != nil {
		return buildapi.ReturnCodeUnrecoverable, nil, err
	}
	defer os.RemoveAll(dir)

	input, err := buildapi.MessageHandlerFor(filepath.Join(dir, "input.json"), buildapi.FormatJSON)
	if err != nil {
		return buildapi.ReturnCodeUnrecoverable, nil, err
	}
	in := []byte(req.Input)
	if len(in) == 0 {
		in = []byte("{}")
	}
	if err := os.WriteFile(input.Path, in, 0o644); err != nil {
		return buildapi.ReturnCodeUnrecoverable, nil, err
	}
	output, err := buildapi.MessageHandlerFor(filepath.Join(dir, "output.json"), buildapi.FormatJSON)
	if err != nil {
		return buildapi.ReturnCodeUnrecoverable, nil, err
	}

	rc, err := s.router.Route(ctx, req.Service, req.Method, cfg, input, []*buildapi.MessageHandler{output}, nil)
	if err != nil {
		return rc, nil, err
	}
	data, err := os.ReadFile(output.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rc, nil, nil
		}
		return rc, nil, err
	}
	return rc, json.RawMessage(data), nil
}
