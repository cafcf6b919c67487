package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nftmarket/core/events"
	"nftmarket/indexer"
	nativecommon "nftmarket/native/common"
	"nftmarket/runtime"
)

const (
	maxBodyBytes      = 64 << 10
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// FaucetConfig controls the development airdrop endpoint.
type FaucetConfig struct {
	Enabled bool
	Amount  uint64
	Quota   nativecommon.Quota
}

// Config captures the dependencies of the HTTP API.
type Config struct {
	Processor *runtime.Processor
	Indexer   *indexer.Indexer
	Bus       *events.Bus
	Pauses    nativecommon.PauseView
	RateLimit RateLimit
	Faucet    FaucetConfig
	Admin     AdminAuth
	Logger    *slog.Logger
}

// Server serves the marketplace HTTP API.
type Server struct {
	proc    *runtime.Processor
	index   *indexer.Indexer
	bus     *events.Bus
	pauses  nativecommon.PauseView
	faucet  FaucetConfig
	quota   *nativecommon.QuotaTracker
	limiter *RateLimiter
	auth    *authenticator
	logger  *slog.Logger
	nowFn   func() time.Time

	router http.Handler
}

// New constructs the router over the supplied dependencies.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		proc:    cfg.Processor,
		index:   cfg.Indexer,
		bus:     cfg.Bus,
		pauses:  cfg.Pauses,
		faucet:  cfg.Faucet,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
		nowFn:   time.Now,
	}
	if cfg.Faucet.Enabled {
		srv.quota = nativecommon.NewQuotaTracker(cfg.Faucet.Quota)
	}
	if cfg.Admin.enabled() {
		srv.auth = newAuthenticator(cfg.Admin)
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware("api"))
		api.With(s.observe("transactions")).Post("/transactions", s.handleSubmitTransaction)
		api.With(s.observe("transactions")).Get("/transactions/{hash}", s.handleGetReceipt)
		api.With(s.observe("accounts")).Get("/accounts/{address}", s.handleGetAccount)
		api.With(s.observe("accounts")).Get("/state", s.handleStateRoot)
		api.With(s.observe("listings")).Get("/listings", s.handleBrowseListings)
		api.With(s.observe("listings")).Get("/listings/{address}", s.handleGetListing)
		api.With(s.observe("listings")).Get("/derive", s.handleDerive)
		api.With(s.observe("events")).Get("/events", s.handleEventsWS)
		if s.faucet.Enabled {
			api.With(s.observe(nativecommon.ModuleFaucet)).Post("/faucet", s.handleFaucet)
		}
		if s.auth != nil {
			api.Route("/admin", func(admin chi.Router) {
				admin.Use(s.observe("admin"), s.auth.middleware)
				admin.Get("/pauses", s.handleListPauses)
				admin.Put("/pauses/{module}", s.handleSetPause)
			})
		}
	})

	return otelhttp.NewHandler(r, "marketd.api")
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is ListenAndServe over an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", slog.String("address", listener.Addr().String()))
		errCh <- httpServer.Serve(listener)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
