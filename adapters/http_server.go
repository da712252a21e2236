package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"mqtt-gateway/application"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	HTTPDefaultAddr              = ":8080"
	HTTPDefaultShutdownTimeout   = 10 * time.Second
	HTTPDefaultReadHeaderTimeout = 10 * time.Second
	HTTPDefaultMaxBodySize       = 1 << 20
)

type HTTPServerParams struct {
	Addr    string
	Gateway application.GatewayService

	ShutdownTimeout time.Duration
	MaxBodySize     int64

	Log zerolog.Logger
}

func (h *HTTPServerParams) EnsureDefaults() {
	if h.Addr == "" {
		h.Addr = HTTPDefaultAddr
	}

	if h.ShutdownTimeout == 0 {
		h.ShutdownTimeout = HTTPDefaultShutdownTimeout
	}

	if h.MaxBodySize == 0 {
		h.MaxBodySize = HTTPDefaultMaxBodySize
	}
}

// HTTPServer exposes the gateway under /mqtt.
type HTTPServer struct {
	params HTTPServerParams

	gateway application.GatewayService

	log zerolog.Logger
}

func NewHTTPServer(params HTTPServerParams) (*HTTPServer, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("Gateway is nil")
	}
	params.EnsureDefaults()

	return &HTTPServer{params: params, gateway: params.Gateway, log: params.Log}, nil
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/mqtt/{broker}", func(r chi.Router) {
		r.Put("/", s.handlePutBrokerConfig)
		r.Get("/", s.handleGetBrokerConfig)
		r.Delete("/", s.handleDeleteBrokerConfig)
		r.Get("/status", s.handleStatus)
		r.Post("/send/{topic}", s.handlePublish)
		r.Get("/get/{topic}", s.handleSubscribe)
	})

	return r
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.params.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: HTTPDefaultReadHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.params.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.params.ShutdownTimeout)
	defer cancel()

	s.log.Info().Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
