package httpserver

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/ChunkStream/pkg/logging"
)

// Options configures the listening server. ReadTimeout and WriteTimeout
// cover whole request and response bodies; zero leaves them unbounded.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// Server hosts a handler behind the request logging and panic recovery
// middleware.
type Server struct {
	httpServer *http.Server
	log        *logrus.Entry
}

// New creates a server for handler.
func New(opts Options, handler http.Handler) *Server {
	log := logging.Component("httpserver")
	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           Wrap(log, handler),
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
			ReadTimeout:       opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
			IdleTimeout:       opts.IdleTimeout,
			ErrorLog:          newErrorLog(log),
		},
		log: log,
	}
}

// Wrap applies the middleware chain to handler.
func Wrap(log *logrus.Entry, handler http.Handler) http.Handler {
	//innermost/bottom -> outermost/top
	handler = wrapRequestLogging(log, handler)
	handler = wrapPanicRecovery(log, handler)
	return handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.httpServer.Addr)
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.WithField("addr", l.Addr().String()).Info("server listening")
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server stopped")
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// wrapRequestLogging logs one line per request once it has been served.
func wrapRequestLogging(log *logrus.Entry, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}

		handler.ServeHTTP(rec, request)

		log.WithFields(logrus.Fields{
			"method":   request.Method,
			"path":     request.URL.Path,
			"remote":   request.RemoteAddr,
			"status":   rec.status,
			"bytes":    rec.bytes,
			"duration": time.Since(start).String(),
		}).Info("request served")
	})
}

// wrapPanicRecovery turns a handler panic into a logged 500. An
// http.ErrAbortHandler panic is passed on so net/http aborts the response.
func wrapPanicRecovery(log *logrus.Entry, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		defer func() {
			if panicVal := recover(); panicVal != nil {
				if panicVal == http.ErrAbortHandler {
					log.WithFields(logrus.Fields{
						"method": request.Method,
						"path":   request.URL.Path,
					}).Warn("response aborted")
					panic(panicVal)
				}
				log.Errorf("panic caught by server handler: %v\n%s", panicVal, debug.Stack())
				http.Error(writer, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()

		handler.ServeHTTP(writer, request)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(p)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		r.wroteHeader = true
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
