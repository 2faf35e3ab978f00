package components

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	"github.com/aymenfurter/polyclaw-sub001/internal/daemon"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
	"github.com/aymenfurter/polyclaw-sub001/internal/ingress"
)

// HTTPServerComponent exposes the gate's inbound HTTP surface: the health
// endpoint, the tool-call hook producers post to, and the voice callback.
type HTTPServerComponent struct {
	daemon      *daemon.Daemon
	cfg         *config.ServerConfig
	ingressComp *IngressComponent
	server      *http.Server
	shutdownTTL time.Duration
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewHTTPServerComponent(d *daemon.Daemon, cfg *config.ServerConfig, ingressComp *IngressComponent) *HTTPServerComponent {
	return &HTTPServerComponent{daemon: d, cfg: cfg, ingressComp: ingressComp}
}

func (h *HTTPServerComponent) Name() string {
	return "HTTPServer"
}

func (h *HTTPServerComponent) Dependencies() []string {
	return []string{"State", "Adapters", "Gate", "Ingress"}
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/hooks/tool", h.handleToolHook)
	mux.HandleFunc("/voice/callbacks", h.handleVoiceCallback)

	shutdownTimeout, err := config.DurationOrDefault(h.cfg.ShutdownTimeout, config.DefaultServerShutdownTime)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	h.shutdownTTL = shutdownTimeout

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", h.cfg.Port)
	return nil
}

func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	slog.Info("HTTPServer started", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.started {
		return &daemon.ComponentHealth{Name: h.Name(), Healthy: false, Error: fmt.Errorf("not started")}, nil
	}
	return &daemon.ComponentHealth{Name: h.Name(), Healthy: true}, nil
}

func (h *HTTPServerComponent) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	components := make(map[string]interface{})
	for name, ch := range h.daemon.ComponentHealth() {
		entry := map[string]interface{}{"healthy": ch.Healthy}
		if ch.Error != nil {
			entry["error"] = ch.Error.Error()
		}
		components[name] = entry
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     string(h.daemon.Health()),
		"uptime":     h.daemon.Uptime().String(),
		"components": components,
	})
}

// toolHookRequest is the payload producers post when they observe a tool
// call. Arguments are carried opaque; the gate only canonicalizes them for
// correlation.
type toolHookRequest struct {
	ExternalID string          `json:"external_id"`
	Tool       string          `json:"tool"`
	SessionID  string          `json:"session_id"`
	ModelID    string          `json:"model_id"`
	Arguments  json.RawMessage `json:"arguments"`
	Risk       string          `json:"risk"`
}

func (h *HTTPServerComponent) handleToolHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req toolHookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Tool == "" || req.SessionID == "" {
		http.Error(w, "tool and session_id are required", http.StatusBadRequest)
		return
	}

	metadata := map[string]string{
		"tool":     req.Tool,
		"model_id": req.ModelID,
	}
	if req.ExternalID != "" {
		metadata["external_id"] = req.ExternalID
		metadata["event_id"] = req.ExternalID
	}
	if req.Risk != "" {
		metadata["risk"] = req.Risk
	}

	args := "{}"
	if len(req.Arguments) > 0 {
		args = string(req.Arguments)
	}

	evt := ingress.NewEvent("hook", ingress.TypeToolNotice, req.SessionID, args, metadata)
	h.submit(w, r.Context(), &evt)
}

// voiceCallback is what the telephony bridge posts when a call completes.
// It is translated into an ordinary approval answer addressed by handle.
type voiceCallback struct {
	CallHandle string `json:"call_handle"`
	SessionID  string `json:"session_id"`
	Accepted   bool   `json:"accepted"`
	CallerID   string `json:"caller_id"`
}

func (h *HTTPServerComponent) handleVoiceCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cb voiceCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if cb.CallHandle == "" {
		http.Error(w, "call_handle is required", http.StatusBadRequest)
		return
	}

	content := "no"
	if cb.Accepted {
		content = "yes"
	}
	metadata := map[string]string{
		"call_handle": cb.CallHandle,
		"event_id":    "voice:" + cb.CallHandle,
	}
	if cb.CallerID != "" {
		metadata["user_id"] = cb.CallerID
	}

	evt := ingress.NewEvent("voice", ingress.TypeApprovalResponse, cb.SessionID, content, metadata)
	h.submit(w, r.Context(), &evt)
}

func (h *HTTPServerComponent) submit(w http.ResponseWriter, ctx context.Context, evt *ingress.Event) {
	in := h.ingressComp.GetIngress()
	if in == nil {
		http.Error(w, "ingress unavailable", http.StatusServiceUnavailable)
		return
	}

	err := in.Submit(ctx, evt)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"id": evt.ID})
	case polyErrors.IsCategory(err, polyErrors.ErrDuplicateEvent):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "duplicate"})
	case polyErrors.IsCategory(err, polyErrors.ErrTransient):
		http.Error(w, "queue full, retry later", http.StatusTooManyRequests)
	default:
		slog.Error("Failed to accept inbound event", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
