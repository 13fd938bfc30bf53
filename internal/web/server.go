package web

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	hub      *Hub
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, s Slider, formDefaults FormConfig) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}

	hub := NewHub()
	handlers := NewHandlers(broadcaster, s, hub, formDefaults, subFS)

	return &Server{
		addr:     addr,
		handlers: handlers,
		hub:      hub,
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	h := s.handlers

	mux.HandleFunc("POST /video", h.HandleVideo)
	mux.HandleFunc("POST /timelapse", h.HandleTimelapse)
	mux.HandleFunc("POST /mode", h.HandleMode)
	mux.HandleFunc("POST /direction", h.HandleDirection)
	mux.HandleFunc("POST /endstop", h.HandleEndstop)
	mux.HandleFunc("POST /start", h.HandleStart)
	mux.HandleFunc("POST /stop", h.HandleStop)
	mux.HandleFunc("POST /home", h.HandleHome)
	mux.HandleFunc("POST /calibrate", h.HandleCalibrate)
	mux.HandleFunc("POST /park", h.HandlePark)

	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /config", h.HandleConfig)
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)
	mux.HandleFunc("GET /ws", h.HandleWS)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.ServeIndex) // exact match for root only

	return mux
}

// Run starts the status hub and the server and blocks until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	unsub := s.handlers.Slider.Subscribe(s.hub.Publish)
	defer unsub()

	srv := &http.Server{Addr: s.addr, Handler: s.Mux()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
