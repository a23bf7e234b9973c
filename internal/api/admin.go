package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/orac-stt/internal/settings"
	"github.com/snarg/orac-stt/internal/topics"
	"github.com/snarg/orac-stt/internal/whisper"
)

type adminHandler struct {
	deps Deps
}

// ── Topics ────────────────────────────────────────────────────────────

type topicConfigUpdate struct {
	CoreURL          *string `json:"orac_core_url"`
	WakeWordsToStrip *string `json:"wake_words_to_strip"`
}

func (h *adminHandler) listTopics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.deps.Registry.All())
}

func (h *adminHandler) listActiveTopics(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.deps.Registry.Active())
}

func (h *adminHandler) getTopic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "topic")
	topic, ok := h.deps.Registry.Get(name)
	if !ok {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("topic %q not found", name))
		return
	}
	WriteJSON(w, http.StatusOK, topic)
}

func (h *adminHandler) deleteTopic(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "topic")
	if !h.deps.Registry.Remove(name) {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("topic %q not found", name))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": fmt.Sprintf("topic %q removed", name)})
}

// setTopicConfig sets or clears per-topic overrides. Absent fields are
// left untouched; explicit nulls clear.
func (h *adminHandler) setTopicConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "topic")
	if !topics.ValidName(name) {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid topic name %q", name))
		return
	}

	var upd map[string]*string
	if err := DecodeJSON(r, &upd); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid config payload")
		return
	}

	if coreURL, ok := upd["orac_core_url"]; ok {
		if coreURL != nil && !validURL(*coreURL) {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid core URL %q", *coreURL))
			return
		}
		h.deps.Registry.SetCoreURL(name, coreURL)
	}
	if strip, ok := upd["wake_words_to_strip"]; ok {
		h.deps.Registry.SetWakeWordsToStrip(name, strip)
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": fmt.Sprintf("topic %q configuration updated", name)})
}

// clearTopicConfig drops the topic's Core URL override.
func (h *adminHandler) clearTopicConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "topic")
	if _, ok := h.deps.Registry.Get(name); !ok {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("topic %q not found", name))
		return
	}
	h.deps.Registry.SetCoreURL(name, nil)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": fmt.Sprintf("topic %q will use default core URL", name)})
}

// ── Core config ───────────────────────────────────────────────────────

func (h *adminHandler) getCoreConfig(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"orac_core_url":       h.deps.Pool.DefaultURL(),
		"orac_core_timeout_s": h.deps.Settings.Get(settings.KeyCoreTimeoutS),
	})
}

func (h *adminHandler) setCoreConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CoreURL  string `json:"orac_core_url"`
		TimeoutS int    `json:"orac_core_timeout_s"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid config payload")
		return
	}
	if req.CoreURL == "" || !validURL(req.CoreURL) {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid core URL %q", req.CoreURL))
		return
	}

	values := map[string]any{settings.KeyCoreURL: req.CoreURL}
	if req.TimeoutS > 0 {
		values[settings.KeyCoreTimeoutS] = req.TimeoutS
	}
	if err := h.deps.Settings.Update(values); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to persist core config")
	}
	h.deps.Pool.SetDefault(req.CoreURL, time.Duration(req.TimeoutS)*time.Second)

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "core configuration updated"})
}

// testCoreConfig probes the configured (or provided) Core URL.
func (h *adminHandler) testCoreConfig(w http.ResponseWriter, r *http.Request) {
	targetURL := ""
	var req struct {
		CoreURL string `json:"orac_core_url"`
	}
	if err := DecodeJSON(r, &req); err == nil && req.CoreURL != "" {
		targetURL = req.CoreURL
	}

	client := h.deps.Pool.For(targetURL)
	if client == nil {
		WriteError(w, http.StatusBadRequest, "no core URL configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	reachable := client.Health(ctx)

	WriteJSON(w, http.StatusOK, map[string]any{
		"orac_core_url": client.BaseURL(),
		"reachable":     reachable,
	})
}

// ── Models ────────────────────────────────────────────────────────────

type modelEntry struct {
	Name        string  `json:"name"`
	SizeMB      float64 `json:"size_mb"`
	Description string  `json:"description"`
	Current     bool    `json:"current"`
}

func (h *adminHandler) listModels(w http.ResponseWriter, r *http.Request) {
	current := h.deps.Cfg.ModelName
	if sup := h.deps.Supervisor; sup != nil {
		current = sup.ModelName()
	}

	out := make([]modelEntry, 0, len(whisper.Models))
	for _, name := range whisper.ModelNames() {
		info := whisper.Models[name]
		out = append(out, modelEntry{
			Name:        name,
			SizeMB:      info.SizeMB,
			Description: info.Description,
			Current:     name == current,
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *adminHandler) selectModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelName string `json:"model_name"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if !whisper.ValidModel(req.ModelName) {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid model: %s", req.ModelName))
		return
	}
	sup := h.deps.Supervisor
	if sup == nil {
		WriteError(w, http.StatusConflict, "engine is externally managed")
		return
	}
	if err := sup.SwitchModel(r.Context(), req.ModelName); err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to switch model", err.Error())
		return
	}

	h.deps.Bus.Publish("model", map[string]string{"model_name": req.ModelName})
	WriteJSON(w, http.StatusOK, map[string]string{"status": "success", "message": fmt.Sprintf("Switched to %s", req.ModelName)})
}

func (h *adminHandler) restartModel(w http.ResponseWriter, r *http.Request) {
	sup := h.deps.Supervisor
	if sup == nil {
		WriteError(w, http.StatusConflict, "engine is externally managed")
		return
	}
	if err := sup.Restart(r.Context(), "admin request"); err != nil {
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to restart engine", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "engine restarted"})
}

// ── Commands ──────────────────────────────────────────────────────────

func (h *adminHandler) listCommands(w http.ResponseWriter, r *http.Request) {
	limit := QueryInt(r, "limit", 5)
	WriteJSON(w, http.StatusOK, h.deps.Ring.Recent(limit))
}

func (h *adminHandler) commandAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cmd, ok := h.deps.Ring.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "command not found")
		return
	}
	if cmd.AudioFile == "" {
		WriteError(w, http.StatusNotFound, "audio file not found")
		return
	}
	path, err := h.deps.Snapshots.Path(cmd.AudioFile)
	if err != nil {
		WriteError(w, http.StatusNotFound, "audio file not found")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="command_%s.wav"`, id))
	http.ServeFile(w, r, path)
}

// ── Live push ─────────────────────────────────────────────────────────

// ws streams bus events (new commands, model changes) to dashboard
// clients.
func (h *adminHandler) ws(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("admin websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Time{})

	events, cancel := h.deps.Bus.Subscribe()
	defer cancel()

	if err := conn.WriteJSON(map[string]string{"type": "connected", "message": "Connected to ORAC STT Admin"}); err != nil {
		return
	}

	// A reconnecting client passes the last event ID it saw and gets
	// the backlog before the live feed. Replay after subscribing so no
	// event falls in the gap; the live loop drops the overlap.
	replayed := make(map[string]struct{})
	if last := r.URL.Query().Get("last_event_id"); last != "" {
		for _, evt := range h.deps.Bus.ReplaySince(last) {
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
			replayed[evt.ID] = struct{}{}
		}
	}

	// Reader goroutine only detects disconnect; clients send nothing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case evt := <-events:
			if _, dup := replayed[evt.ID]; dup {
				delete(replayed, evt.ID)
				continue
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

func validURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
