package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"blind_relay/internal/repository/conversation"
	"blind_relay/internal/service/auth"
	"blind_relay/internal/service/directory"
	"blind_relay/internal/service/relay"
	"blind_relay/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type (
	Options struct {
		Addr          string
		AuthTimeout   time.Duration
		PingPeriod    time.Duration
		PongWait      time.Duration
		WriteWait     time.Duration
		SendBuffer    int
		MaxFrameBytes int64
		// RequireToken makes the HTTP surface demand a bearer token for the
		// identity it acts on. The relay hub enforces the same for auth frames.
		RequireToken bool
	}

	HttpServer struct {
		opts      Options
		hub       *relay.Hub
		directory *directory.Directory
		store     conversation.Store
		tokens    *auth.TokenIssuer

		ctx    context.Context
		cancel context.CancelFunc
		conns  sync.Map // relay.Handle -> *wsConn
		srv    *http.Server
	}
)

func DefaultOptions() Options {
	return Options{
		Addr:          "localhost:9090",
		AuthTimeout:   10 * time.Second,
		PingPeriod:    50 * time.Second,
		PongWait:      60 * time.Second,
		WriteWait:     10 * time.Second,
		SendBuffer:    64,
		MaxFrameBytes: 64 << 10,
	}
}

// NewHttpServer wires the relay and its HTTP collaborators. tokens may be nil
// when no JWT secret is configured.
func NewHttpServer(opts Options, hub *relay.Hub, dir *directory.Directory, store conversation.Store, tokens *auth.TokenIssuer) *HttpServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &HttpServer{
		opts:      opts,
		hub:       hub,
		directory: dir,
		store:     store,
		tokens:    tokens,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *HttpServer) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.HandleWS()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", s.Register()).Methods(http.MethodPost)
	api.HandleFunc("/login", s.Login()).Methods(http.MethodPost)
	api.HandleFunc("/user/{name}", s.LookupUser()).Methods(http.MethodGet)
	api.HandleFunc("/users", s.SearchUsers()).Methods(http.MethodGet)
	api.HandleFunc("/history", s.History()).Methods(http.MethodGet)
	api.HandleFunc("/conversations", s.Conversations()).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.PostMessage()).Methods(http.MethodPost)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is cancelled, then shuts down and closes every open
// relay connection.
func (s *HttpServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("relay listening", zap.String("addr", s.opts.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.closeConnections()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	s.closeConnections()
	return err
}

func (s *HttpServer) closeConnections() {
	s.cancel()
	s.conns.Range(func(_, v any) bool {
		v.(*wsConn).close()
		return true
	})
}
