package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/orac-stt/internal/audio"
	"github.com/snarg/orac-stt/internal/heartbeat"
	"github.com/snarg/orac-stt/internal/metrics"
	"github.com/snarg/orac-stt/internal/stt"
	"github.com/snarg/orac-stt/internal/topics"
)

// maxUploadBytes caps multipart uploads well above the 15 s audio
// limit.
const maxUploadBytes = 32 << 20

type sttHandler struct {
	deps Deps
}

// upload transcribes a multipart WAV. Bad audio is a 400; engine
// trouble is a 200 with empty text so edge producers never retry on
// 5xx.
func (h *sttHandler) upload(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if topic == "" {
		topic = topics.DefaultTopic
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	wavBytes, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	opts := stt.Options{
		Topic:            topic,
		Language:         r.URL.Query().Get("language"),
		Task:             r.URL.Query().Get("task"),
		ForwardToCore:    QueryBool(r, "forward_to_core", true),
		WakeWordTime:     r.Header.Get("X-Wake-Word-Time"),
		RecordingEndTime: r.Header.Get("X-Recording-End-Time"),
	}

	res, err := h.deps.Orchestrator.TranscribeUpload(r.Context(), wavBytes, opts)
	if err != nil {
		if errors.Is(err, audio.ErrBadAudio) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("upload transcription failed")
		WriteError(w, http.StatusInternalServerError, "transcription failed")
		return
	}

	WriteJSON(w, http.StatusOK, res)
}

// preload forces an engine warm-up so the first utterance is fast.
func (h *sttHandler) preload(w http.ResponseWriter, r *http.Request) {
	if sup := h.deps.Supervisor; sup != nil {
		elapsed, err := sup.Preload(r.Context())
		if err != nil {
			WriteErrorDetail(w, http.StatusInternalServerError, "failed to load model", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{
			"status":  "success",
			"message": fmt.Sprintf("Model loaded in %.2fs", elapsed.Seconds()),
		})
		return
	}

	start := time.Now()
	if !h.deps.Engine.WaitReady(r.Context()) {
		WriteError(w, http.StatusInternalServerError, "failed to load model")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Model loaded in %.2fs", time.Since(start).Seconds()),
	})
}

// health is the engine-focused sub-report.
func (h *sttHandler) health(w http.ResponseWriter, r *http.Request) {
	if sup := h.deps.Supervisor; sup != nil {
		st := sup.Status()
		status := "initializing"
		if st.IsHealthy {
			status = "healthy"
		} else if st.RestartCount > 0 {
			status = "unhealthy"
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"status":       status,
			"model_loaded": st.IsHealthy,
			"model_name":   st.ModelName,
			"backend":      "whisper.cpp",
			"server":       st,
		})
		return
	}

	healthy := h.deps.Engine.Health(r.Context())
	status := "initializing"
	if healthy {
		status = "healthy"
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"model_loaded": healthy,
		"model_name":   h.deps.Cfg.ModelName,
		"backend":      "whisper.cpp",
	})
}

// heartbeat ingests a batched edge heartbeat.
func (h *sttHandler) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeat.Request
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid heartbeat payload")
		return
	}
	if req.InstanceID == "" {
		WriteError(w, http.StatusBadRequest, "instance_id is required")
		return
	}

	metrics.HeartbeatsTotal.Inc()
	resp := h.deps.Aggregator.Process(r.Context(), req)
	WriteJSON(w, http.StatusOK, resp)
}

func (h *sttHandler) heartbeatStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.deps.Aggregator.Status())
}
