package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/aegis-run/aegis/core"
	"github.com/aegis-run/aegis/internal/gatewayapi"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// sessionExpiredClose is sent when a subscription's context is cancelled
// out from under an open socket (job reached a terminal state, or the
// server is shutting down).
const sessionExpiredClose = 4001

func newHTTPMux(svc *gatewayapi.Service, logger core.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", healthHandler(svc))

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", submitHandler(svc))
		r.Get("/{jobID}", getHandler(svc))
		r.Post("/{jobID}/cancel", cancelHandler(svc))
		r.Post("/{jobID}/approve", approveHandler(svc))
		r.Post("/{jobID}/reject", rejectHandler(svc))
		r.Get("/{jobID}/explain", explainHandler(svc))
		r.Post("/{jobID}/replay", replayHandler(svc))
		r.Get("/{jobID}/subscribe", subscribeHandler(svc, logger))
	})

	return r
}

func healthHandler(svc *gatewayapi.Service) http.HandlerFunc {
	start := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"uptime": time.Since(start).String(),
		})
	}
}

func submitHandler(svc *gatewayapi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gatewayapi.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		job, err := svc.Submit(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func getHandler(svc *gatewayapi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.Get(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func cancelHandler(svc *gatewayapi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Cancel(r.Context(), chi.URLParam(r, "jobID")); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type decisionRequest struct {
	Nonce string `json:"nonce"`
}

func approveHandler(svc *gatewayapi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if err := svc.Approve(r.Context(), chi.URLParam(r, "jobID"), req.Nonce); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func rejectHandler(svc *gatewayapi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if err := svc.Reject(r.Context(), chi.URLParam(r, "jobID"), req.Nonce); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func explainHandler(svc *gatewayapi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.Explain(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func replayHandler(svc *gatewayapi.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.Replay(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

// subscribeHandler upgrades to a WebSocket and streams {"type":"status"}
// events for jobID until the job reaches a terminal state or the client
// disconnects, sending ping frames on a keep-alive tick.
func subscribeHandler(svc *gatewayapi.Service, logger core.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error(), "job_id": jobID})
			return
		}
		defer conn.Close()

		events, err := svc.Subscribe(r.Context(), jobID)
		if err != nil {
			_ = conn.WriteJSON(map[string]any{"type": "error", "message": err.Error()})
			return
		}

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(sessionExpiredClose, "job reached terminal state"),
						time.Now().Add(5*time.Second))
					return
				}
				if err := conn.WriteJSON(map[string]any{
					"type":   "status",
					"jobId":  event.JobID,
					"status": event.Status,
					"result": event.Result,
					"error":  event.Error,
				}); err != nil {
					return
				}
				if event.Status.Terminal() {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(sessionExpiredClose, "job reached terminal state"),
						time.Now().Add(5*time.Second))
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
