package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/orac-stt/internal/audio"
	"github.com/snarg/orac-stt/internal/config"
	"github.com/snarg/orac-stt/internal/coreclient"
	"github.com/snarg/orac-stt/internal/heartbeat"
	"github.com/snarg/orac-stt/internal/history"
	"github.com/snarg/orac-stt/internal/settings"
	"github.com/snarg/orac-stt/internal/stt"
	"github.com/snarg/orac-stt/internal/topics"
	"github.com/snarg/orac-stt/internal/whisper"
)

// fakeEngineServer stands in for whisper-server: 200 on health probes,
// fixed transcription on /inference.
func fakeEngineServer(t *testing.T, text string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/inference" {
			json.NewEncoder(w).Encode(map[string]string{"text": text})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	deps Deps
	srv  *Server
}

func newTestEnv(t *testing.T, engineURL, coreURL string) *testEnv {
	t.Helper()

	cfg := &config.Config{
		HTTPAddr:          ":0",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       5 * time.Second,
		ModelName:         "whisper-base",
		StreamThresholdMs: 100,
	}

	log := zerolog.Nop()
	engine := whisper.NewClient(engineURL, 2*time.Second, log)
	registry := topics.NewRegistry(t.TempDir(), log)
	ring := history.NewRing(5, log)
	snapshots := history.NewSnapshots(t.TempDir(), 5, log)
	bus := history.NewBus(64)
	ring.Observe(func(cmd history.Command) { bus.Publish("command", cmd) })
	pool := coreclient.NewPool(coreURL, time.Second, log)
	store := settings.NewStore(t.TempDir(), map[string]any{settings.KeyCoreTimeoutS: 30}, log)
	agg := heartbeat.NewAggregator("orac_stt_test", 0, registry, func(ctx context.Context, u string, req heartbeat.CoreRequest) error {
		return nil
	}, log)
	orch := stt.NewOrchestrator(engine, ring, snapshots, registry, pool, log)

	deps := Deps{
		Cfg:          cfg,
		Orchestrator: orch,
		Engine:       engine,
		Registry:     registry,
		Ring:         ring,
		Snapshots:    snapshots,
		Bus:          bus,
		Aggregator:   agg,
		Pool:         pool,
		Settings:     store,
		Version:      "test",
		StartTime:    time.Now(),
		Log:          log,
	}
	return &testEnv{deps: deps, srv: NewServer(deps)}
}

func sineWAV(seconds float64) []byte {
	n := int(seconds * audio.SampleRate)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.4 * math.Sin(2*math.Pi*440*float64(i)/audio.SampleRate))
	}
	return audio.EncodeWAV(samples, audio.SampleRate)
}

func multipartWAV(t *testing.T, wav []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(wav)
	mw.Close()
	return &body, mw.FormDataContentType()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func TestUploadEndpoint(t *testing.T) {
	t.Run("happy_path", func(t *testing.T) {
		engine := fakeEngineServer(t, "turn on the kitchen lights")
		env := newTestEnv(t, engine.URL, "")

		body, ct := multipartWAV(t, sineWAV(1.5))
		req := httptest.NewRequest(http.MethodPost, "/stt/v1/stream/jarvis?forward_to_core=false", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var res stt.Result
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if res.Text != "turn on the kitchen lights" {
			t.Errorf("text = %q", res.Text)
		}
		if res.Confidence != 0.95 {
			t.Errorf("confidence = %v, want 0.95", res.Confidence)
		}
		if math.Abs(res.Duration-1.5) > 0.01 {
			t.Errorf("duration = %v, want ~1.5", res.Duration)
		}
	})

	t.Run("bad_audio_400", func(t *testing.T) {
		engine := fakeEngineServer(t, "x")
		env := newTestEnv(t, engine.URL, "")

		body, ct := multipartWAV(t, []byte("this is not a wav"))
		req := httptest.NewRequest(http.MethodPost, "/stt/v1/stream", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing_file_field_400", func(t *testing.T) {
		engine := fakeEngineServer(t, "x")
		env := newTestEnv(t, engine.URL, "")

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		mw.WriteField("other", "value")
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/stt/v1/stream", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("engine_down_returns_200_empty", func(t *testing.T) {
		engine := fakeEngineServer(t, "x")
		engineURL := engine.URL
		engine.Close()
		env := newTestEnv(t, engineURL, "")

		body, ct := multipartWAV(t, sineWAV(1.0))
		req := httptest.NewRequest(http.MethodPost, "/stt/v1/stream/jarvis?forward_to_core=false", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 on engine failure", rec.Code)
		}
		var res stt.Result
		json.Unmarshal(rec.Body.Bytes(), &res)
		if res.Text != "" {
			t.Errorf("text = %q, want empty", res.Text)
		}
		if res.Duration == 0 {
			t.Error("duration not populated on failure path")
		}

		cmds := env.deps.Ring.Recent(0)
		if len(cmds) != 1 || !cmds[0].Failed {
			t.Errorf("ring = %+v, want one failed command", cmds)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("live_always_200", func(t *testing.T) {
		engine := fakeEngineServer(t, "x")
		env := newTestEnv(t, engine.URL, "")
		rec, body := doJSON(t, env.srv.Handler(), http.MethodGet, "/health/live", nil)
		if rec.Code != http.StatusOK || body["status"] != "alive" {
			t.Errorf("status = %d, body = %v", rec.Code, body)
		}
	})

	t.Run("ready_follows_engine", func(t *testing.T) {
		engine := fakeEngineServer(t, "x")
		env := newTestEnv(t, engine.URL, "")
		rec, _ := doJSON(t, env.srv.Handler(), http.MethodGet, "/health/ready", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("ready status = %d, want 200", rec.Code)
		}

		engine.Close()
		rec, _ = doJSON(t, env.srv.Handler(), http.MethodGet, "/health/ready", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("ready status = %d, want 503 with engine down", rec.Code)
		}
	})

	t.Run("aggregate_degrades_without_engine", func(t *testing.T) {
		engine := fakeEngineServer(t, "x")
		engineURL := engine.URL
		engine.Close()
		env := newTestEnv(t, engineURL, "")

		rec, body := doJSON(t, env.srv.Handler(), http.MethodGet, "/health", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if body["status"] != "degraded" {
			t.Errorf("health status = %v, want degraded", body["status"])
		}
	})

	t.Run("stt_health_reports_model", func(t *testing.T) {
		engine := fakeEngineServer(t, "x")
		env := newTestEnv(t, engine.URL, "")
		rec, body := doJSON(t, env.srv.Handler(), http.MethodGet, "/stt/v1/health", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if body["status"] != "healthy" || body["model_loaded"] != true {
			t.Errorf("body = %v", body)
		}
		if body["model_name"] != "whisper-base" {
			t.Errorf("model_name = %v", body["model_name"])
		}
	})

	t.Run("preload_reports_load_time", func(t *testing.T) {
		engine := fakeEngineServer(t, "x")
		env := newTestEnv(t, engine.URL, "")
		rec, body := doJSON(t, env.srv.Handler(), http.MethodPost, "/stt/v1/preload", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		msg, _ := body["message"].(string)
		if !strings.HasPrefix(msg, "Model loaded in ") {
			t.Errorf("message = %q", msg)
		}
	})
}

func TestHeartbeatEndpoints(t *testing.T) {
	engine := fakeEngineServer(t, "x")
	env := newTestEnv(t, engine.URL, "")
	h := env.srv.Handler()

	t.Run("post_processes_models", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/stt/v1/heartbeat", map[string]any{
			"source":      "hey_orac",
			"instance_id": "edge-1",
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"models": []map[string]any{
				{"topic": "jarvis", "wake_word": "Hey Jarvis", "status": "active", "trigger_count": 3},
			},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %v", rec.Code, body)
		}
		if body["status"] != "ok" || body["topics_processed"] != float64(1) {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("missing_instance_id_400", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/stt/v1/heartbeat", map[string]any{"source": "hey_orac"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("status_lists_instances", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/stt/v1/heartbeat/status", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if body["instance_count"] != float64(1) {
			t.Errorf("instance_count = %v, want 1", body["instance_count"])
		}
	})
}

func TestAdminTopics(t *testing.T) {
	engine := fakeEngineServer(t, "x")
	env := newTestEnv(t, engine.URL, "")
	h := env.srv.Handler()

	t.Run("set_and_get_config", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/admin/topics/jarvis/config", map[string]any{
			"orac_core_url":       "http://core-b:8000",
			"wake_words_to_strip": "hey jarvis, jarvis",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}

		rec, body := doJSON(t, h, http.MethodGet, "/admin/topics/jarvis", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get status = %d", rec.Code)
		}
		if body["orac_core_url"] != "http://core-b:8000" {
			t.Errorf("orac_core_url = %v", body["orac_core_url"])
		}
		if body["wake_words_to_strip"] != "hey jarvis, jarvis" {
			t.Errorf("wake_words_to_strip = %v", body["wake_words_to_strip"])
		}
	})

	t.Run("invalid_topic_name_400", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/admin/topics/bad%20name/config", map[string]any{
			"orac_core_url": "http://x:1",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("invalid_core_url_400", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/admin/topics/jarvis/config", map[string]any{
			"orac_core_url": "not a url",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("clear_config", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodDelete, "/admin/topics/jarvis/config", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		_, body := doJSON(t, h, http.MethodGet, "/admin/topics/jarvis", nil)
		if body["orac_core_url"] != nil {
			t.Errorf("orac_core_url = %v, want cleared", body["orac_core_url"])
		}
	})

	t.Run("unknown_topic_404", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet, "/admin/topics/nonexistent", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("get status = %d, want 404", rec.Code)
		}
		rec, _ = doJSON(t, h, http.MethodDelete, "/admin/topics/nonexistent", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("delete status = %d, want 404", rec.Code)
		}
	})

	t.Run("delete_topic", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodDelete, "/admin/topics/jarvis", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestAdminCoreConfig(t *testing.T) {
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "running"})
	}))
	defer core.Close()

	engine := fakeEngineServer(t, "x")
	env := newTestEnv(t, engine.URL, "")
	h := env.srv.Handler()

	t.Run("set_then_get", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/admin/config/orac-core", map[string]any{
			"orac_core_url": core.URL,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("set status = %d", rec.Code)
		}

		_, body := doJSON(t, h, http.MethodGet, "/admin/config/orac-core", nil)
		if body["orac_core_url"] != core.URL {
			t.Errorf("orac_core_url = %v, want %q", body["orac_core_url"], core.URL)
		}
	})

	t.Run("invalid_url_400", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/admin/config/orac-core", map[string]any{
			"orac_core_url": "nope",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("test_probes_core", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/admin/config/orac-core/test", map[string]any{
			"orac_core_url": core.URL,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if body["reachable"] != true {
			t.Errorf("reachable = %v, want true", body["reachable"])
		}
	})
}

func TestAdminModels(t *testing.T) {
	engine := fakeEngineServer(t, "x")
	env := newTestEnv(t, engine.URL, "")
	h := env.srv.Handler()

	t.Run("list_includes_current", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/models", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var models []map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &models); err != nil {
			t.Fatal(err)
		}
		if len(models) == 0 {
			t.Fatal("no models listed")
		}
		currentSeen := false
		for _, m := range models {
			if m["current"] == true {
				currentSeen = true
				if m["name"] != "whisper-base" {
					t.Errorf("current = %v, want whisper-base", m["name"])
				}
			}
			if m["size_mb"] == nil || m["description"] == "" {
				t.Errorf("model entry incomplete: %v", m)
			}
		}
		if !currentSeen {
			t.Error("no model marked current")
		}
	})

	t.Run("select_invalid_model_400", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/admin/models/select", map[string]any{"model_name": "whisper-nonexistent"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("select_without_supervisor_409", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/admin/models/select", map[string]any{"model_name": "whisper-tiny"})
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})
}

func TestAdminCommands(t *testing.T) {
	engine := fakeEngineServer(t, "open the garage")
	env := newTestEnv(t, engine.URL, "")
	h := env.srv.Handler()

	body, ct := multipartWAV(t, sineWAV(1.0))
	req := httptest.NewRequest(http.MethodPost, "/stt/v1/stream/jarvis?forward_to_core=false", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}

	t.Run("list_commands", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/commands?limit=5", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var cmds []map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &cmds); err != nil {
			t.Fatal(err)
		}
		if len(cmds) != 1 || cmds[0]["text"] != "open the garage" {
			t.Errorf("commands = %v", cmds)
		}
	})

	t.Run("download_audio", func(t *testing.T) {
		cmd := env.deps.Ring.Recent(1)[0]
		req := httptest.NewRequest(http.MethodGet, "/admin/commands/"+cmd.ID+"/audio", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("Content-Type = %q", ct)
		}
		if _, err := audio.DecodeWAV(rec.Body.Bytes()); err != nil {
			t.Errorf("served audio is not decodable: %v", err)
		}
	})

	t.Run("unknown_command_404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/commands/nope/audio", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
