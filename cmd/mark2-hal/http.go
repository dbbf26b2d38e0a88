package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

// ============================================================================
// HTTP API
// ============================================================================
// A small JSON API for local tools and UIs:
//
//   GET  /api/state            last-known state of every peripheral
//   GET  /api/buttons          buttons read directly from the pins
//   PUT  /api/fan              {"speed": 0..100}
//   PUT  /api/volume           {"volume": 0..100}
//   PUT  /api/leds             {"rgb": [...], "brightness": 0..100}
//   PUT  /api/leds/animation   {"name": "awake" | "thinking" | "asleep"}
//   POST /api/buttons/report   asks for a ButtonStates broadcast
//   GET  /ws                   state websocket
//
// Commands are submitted to the dispatcher and answered with 202; their
// results show up on the state websocket and the other adapters.
// ============================================================================

const (
	httpTimeout     = 5 * time.Second
	maxRequestBytes = 4096
)

// apiServer holds what the HTTP handlers need from the daemon.
type apiServer struct {
	logger   *slog.Logger
	submit   func(Event)
	snapshot func() HALState
	report   func() map[string]bool
}

// newRouter builds the API router. ws may be nil.
func newRouter(api *apiServer, ws *Server) *httprouter.Router {
	router := httprouter.New()

	router.GET("/api/state", api.handleState)
	router.GET("/api/buttons", api.handleButtons)
	router.PUT("/api/fan", api.handleFan)
	router.PUT("/api/volume", api.handleVolume)
	router.PUT("/api/leds", api.handleLeds)
	router.PUT("/api/leds/animation", api.handleAnimation)
	router.POST("/api/buttons/report", api.handleReport)

	if ws != nil {
		ws.Register(router, "/ws")
	}
	return router
}

func (api *apiServer) handleState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, api.snapshot())
}

func (api *apiServer) handleButtons(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, ButtonStates{States: api.report()})
}

func (api *apiServer) handleFan(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Speed *int `json:"speed"`
	}
	if !api.decode(w, r, &req) {
		return
	}
	if req.Speed == nil {
		writeError(w, http.StatusBadRequest, "speed is required")
		return
	}
	api.accept(w, SetFanSpeed{Speed: *req.Speed})
}

func (api *apiServer) handleVolume(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req struct {
		Volume *int `json:"volume"`
	}
	if !api.decode(w, r, &req) {
		return
	}
	if req.Volume == nil {
		writeError(w, http.StatusBadRequest, "volume is required")
		return
	}
	api.accept(w, SetVolume{Volume: *req.Volume})
}

func (api *apiServer) handleLeds(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req SetLedColors
	if !api.decode(w, r, &req) {
		return
	}
	api.accept(w, req)
}

func (api *apiServer) handleAnimation(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req AnimateLeds
	if !api.decode(w, r, &req) {
		return
	}
	switch req.Name {
	case animationAwake, animationThinking, animationAsleep:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown animation %q", req.Name))
		return
	}
	api.accept(w, req)
}

func (api *apiServer) handleReport(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	api.accept(w, ReportButtonStates{})
}

// decode reads a JSON body into v, answering 400 on failure.
func (api *apiServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		api.logger.Debug("bad api request", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (api *apiServer) accept(w http.ResponseWriter, ev Event) {
	api.submit(ev)
	writeJSON(w, http.StatusAccepted, IPCResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, IPCResponse{Status: "error", Error: msg})
}

// runHTTPServer serves handler on addr and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	logger.Info("http server listening", "addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		// Wait for the ListenAndServe goroutine to return.
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
