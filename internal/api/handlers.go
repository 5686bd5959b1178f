package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"iot-telemetry-gateway/internal/auth"
	"iot-telemetry-gateway/internal/data"
	"iot-telemetry-gateway/internal/engine"
	"iot-telemetry-gateway/internal/ingest"
	"iot-telemetry-gateway/internal/metrics"
	"iot-telemetry-gateway/internal/websocket"
)

const maxBodyBytes = 1 << 20

type APIHandler struct {
	engine   *engine.Engine
	pipeline *ingest.Pipeline
	hub      *websocket.Hub
	auth     *auth.AuthManager
	recorder *metrics.Recorder
	logger   zerolog.Logger
}

func NewAPIHandler(e *engine.Engine, pipeline *ingest.Pipeline, hub *websocket.Hub, am *auth.AuthManager, recorder *metrics.Recorder, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		engine:   e,
		pipeline: pipeline,
		hub:      hub,
		auth:     am,
		recorder: recorder,
		logger:   logger,
	}
}

type ingestResponse struct {
	Status string          `json:"status"`
	Device data.DeviceView `json:"device"`
	Alerts []data.Alert    `json:"alerts"`
}

// HandleDataIngest accepts one reading from a producer.
func (h *APIHandler) HandleDataIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Reading request body failed")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	defer r.Body.Close()

	res, err := h.pipeline.IngestRaw(ingest.SourceHTTP, body)
	if err != nil {
		if errors.Is(err, data.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("Ingest failed")
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	alerts := res.Alerts
	if alerts == nil {
		alerts = []data.Alert{}
	}
	writeJSON(w, http.StatusOK, ingestResponse{Status: "received", Device: res.Device, Alerts: alerts})
}

func (h *APIHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *APIHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot().Devices)
}

func (h *APIHandler) HandleDevice(w http.ResponseWriter, r *http.Request) {
	view, ok := h.engine.Device(chi.URLParam(r, "deviceID"))
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	points, ok := h.engine.History(chi.URLParam(r, "deviceID"), chi.URLParam(r, "metric"))
	if !ok {
		writeError(w, http.StatusNotFound, "no history for device metric")
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// HandleAlerts returns the newest alerts first. limit=0 or a missing limit
// returns the whole log.
func (h *APIHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.engine.RecentAlerts(limit))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
}

// HandleLogin exchanges dashboard credentials for a bearer token.
func (h *APIHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid login payload")
		return
	}
	role, err := h.auth.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		hlog.FromRequest(r).Info().Str("username", req.Username).Msg("Login rejected")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := h.auth.GenerateJWT(req.Username, role)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Issuing token failed")
		writeError(w, http.StatusInternalServerError, "token unavailable")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Role: role})
}

func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"devices": h.engine.DeviceCount(),
		"clients": h.hub.ClientCount(),
	})
}

// HandleWebSocket upgrades connections and registers clients with the hub
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}

// writeJSON answers 500 when v cannot be encoded.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"response encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
