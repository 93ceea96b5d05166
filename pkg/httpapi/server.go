// Package httpapi is a thin HTTP acceptor in front of the session
// dispatcher: it is an external collaborator, not part of the storage
// engine itself, and exists only so a client can submit a please: query
// over HTTP instead of holding a long-lived socket. Routing follows the
// path-keyed dispatch original_source/include/RequestHandler.h's
// HandlerTree describes, flattened into Go's http.ServeMux.
//
// Example Usage:
//
//	dispatcher := session.New(registry.Dispatch, logger)
//	dispatcher.Start()
//	srv := httpapi.New(dispatcher, ":8080", logger)
//	log.Fatal(srv.ListenAndServe())
package httpapi

import (
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/papiermache/dlex/pkg/session"
)

// Server accepts one please: query per HTTP request on POST /query. The
// request body is the raw query text and is passed to the dispatcher
// unchanged; the server does not read credentials (basic auth or otherwise)
// from the HTTP request. The response body is the wire sentinel (and, for a
// successful select, its rows).
type Server struct {
	addr   string
	disp   *session.Dispatcher
	log    *zap.Logger
	mux    *http.ServeMux
	server *http.Server

	// connMu serializes GetConnection calls, which the dispatcher admits
	// only one at a time.
	connMu sync.Mutex
}

// New builds a Server that hands every /query request to disp.
func New(disp *session.Dispatcher, addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{addr: addr, disp: disp, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.server = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

// ListenAndServe blocks serving HTTP until the server is stopped or fails.
func (s *Server) ListenAndServe() error {
	s.log.Info("httpapi: listening", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Close shuts the HTTP server down.
func (s *Server) Close() error {
	return s.server.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok."))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.connMu.Lock()
	conn, err := s.disp.GetConnection()
	s.connMu.Unlock()
	if err != nil {
		s.log.Warn("httpapi: could not obtain a session connection", zap.Error(err))
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	defer conn.Close()

	if err := conn.Send(body); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := conn.Request(); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := conn.Wait(); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	resp, err := conn.Receive()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(resp)
}
