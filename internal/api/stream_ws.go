package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/orac-stt/internal/audio"
	"github.com/snarg/orac-stt/internal/metrics"
	"github.com/snarg/orac-stt/internal/stt"
	"github.com/snarg/orac-stt/internal/topics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 4 * 1024,
	// Edge producers live on other origins (or none).
	CheckOrigin: func(*http.Request) bool { return true },
}

// controlFrame is a text frame from the producer.
type controlFrame struct {
	Type         string `json:"type"`
	SampleFormat string `json:"sample_format,omitempty"`
	WakeWordTime string `json:"wake_word_time,omitempty"`
}

// wsStream accepts one streaming session: binary frames accumulate
// audio, an "end" control frame runs the pipeline and returns the
// final transcription.
func (h *sttHandler) wsStream(w http.ResponseWriter, r *http.Request) {
	topic := topics.Sanitize(chi.URLParam(r, "topic"))
	log := hlog.FromRequest(r).With().Str("topic", topic).Logger()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The server's request read deadline does not apply to a streaming
	// session.
	conn.SetReadDeadline(time.Time{})

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	buf := audio.NewBuffer(h.deps.Cfg.StreamThresholdMs)
	sampleFormat := "int16"
	wakeWordTime := ""

	log.Info().Msg("streaming session opened")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			// Partial audio is discarded with the session.
			log.Info().Err(err).Float64("buffered_seconds", buf.Duration()).Msg("streaming session closed")
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			var appendErr error
			if sampleFormat == "float32" {
				appendErr = buf.AppendFloat32(data)
			} else {
				appendErr = buf.AppendInt16(data)
			}
			if appendErr != nil {
				h.wsError(conn, appendErr.Error())
				return
			}

		case websocket.TextMessage:
			var frame controlFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				log.Warn().Err(err).Msg("unparseable control frame")
				continue
			}
			switch frame.Type {
			case "config":
				if frame.SampleFormat != "" {
					sampleFormat = frame.SampleFormat
				}
				if frame.WakeWordTime != "" {
					wakeWordTime = frame.WakeWordTime
				}
			case "ping":
				if err := conn.WriteJSON(map[string]string{"type": "pong"}); err != nil {
					return
				}
			case "end":
				h.finishStream(r.Context(), conn, buf, topic, wakeWordTime)
				return
			default:
				log.Warn().Str("type", frame.Type).Msg("unknown control frame type")
			}
		}
	}
}

// finishStream runs the pipeline over the accumulated audio and sends
// the final frame.
func (h *sttHandler) finishStream(ctx context.Context, conn *websocket.Conn, buf *audio.Buffer, topic, wakeWordTime string) {
	if !buf.HasMinimum() {
		_ = conn.WriteJSON(map[string]any{
			"text":            "",
			"confidence":      0.0,
			"duration":        buf.Duration(),
			"processing_time": 0.0,
			"is_final":        true,
		})
		return
	}

	samples := buf.Drain()
	res := h.deps.Orchestrator.TranscribeSamples(ctx, samples, stt.Options{
		Topic:         topic,
		ForwardToCore: true,
		Streaming:     true,
		WakeWordTime:  wakeWordTime,
	})

	_ = conn.WriteJSON(map[string]any{
		"text":            res.Text,
		"confidence":      res.Confidence,
		"language":        res.Language,
		"duration":        res.Duration,
		"processing_time": res.ProcessingTime,
		"is_final":        true,
	})
}

// wsError sends one error frame and lets the caller close the session.
func (h *sttHandler) wsError(conn *websocket.Conn, msg string) {
	_ = conn.WriteJSON(map[string]any{"type": "error", "error": msg, "is_final": true})
}
