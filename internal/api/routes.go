package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/realtime"
	"offline-sync-service/internal/sync"
)

type Handler struct {
	orchestrator  *sync.Orchestrator
	subscriptions *realtime.Manager
	messages      *sync.OfflineMessageQueue
	authToken     string
}

func NewHandler(orchestrator *sync.Orchestrator, subscriptions *realtime.Manager, messages *sync.OfflineMessageQueue, cfg config.ServerConfig) *Handler {
	return &Handler{
		orchestrator:  orchestrator,
		subscriptions: subscriptions,
		messages:      messages,
		authToken:     cfg.AuthToken,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/operations", h.QueueOperation)
		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/pending", h.ListPendingOperations)
		r.Delete("/sync/pending", h.ClearPendingOperations)
		r.Get("/subscriptions", h.GetSubscriptions)
		r.Get("/messages/failed", h.ListFailedMessages)
		r.Delete("/messages/failed", h.ClearFailedMessages)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type queueOperationRequest struct {
	Table    string                 `json:"table"`
	Kind     sync.OperationKind     `json:"kind"`
	Payload  map[string]interface{} `json:"payload"`
	RecordID string                 `json:"record_id"`
}

func (h *Handler) QueueOperation(w http.ResponseWriter, r *http.Request) {
	var req queueOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.orchestrator.QueueOperation(r.Context(), req.Table, req.Kind, req.Payload, req.RecordID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"operation_id": id})
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	// Detached from the request context so the pass survives the response.
	go h.orchestrator.Sync(context.Background(), true)
	writeJSON(w, map[string]string{"status": "triggered"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    h.orchestrator.Status(),
		"pending":   h.orchestrator.PendingOperationsCount(),
		"last_sync": h.orchestrator.LastSyncTimes(),
	})
}

func (h *Handler) ListPendingOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.orchestrator.PendingOperations())
}

func (h *Handler) ClearPendingOperations(w http.ResponseWriter, r *http.Request) {
	h.orchestrator.ClearPendingOperations(r.Context())
	writeJSON(w, map[string]string{"status": "cleared"})
}

func (h *Handler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.subscriptions.Snapshot())
}

func (h *Handler) ListFailedMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.messages.Failed())
}

func (h *Handler) ClearFailedMessages(w http.ResponseWriter, r *http.Request) {
	h.messages.ClearFailed(r.Context())
	writeJSON(w, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authToken != "" && r.Header.Get("Authorization") != "Bearer "+h.authToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
