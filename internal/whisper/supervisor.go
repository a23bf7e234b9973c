package whisper

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/orac-stt/internal/metrics"
)

// State is the supervisor's lifecycle position.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateUnhealthy  State = "unhealthy"
	StateRestarting State = "restarting"
	StateFailed     State = "failed"
)

// SupervisorOptions configures the engine supervisor.
type SupervisorOptions struct {
	Bin          string
	ModelsDir    string
	Host         string
	Port         int
	ModelName    string
	Prompt       string
	StartTimeout time.Duration

	HealthInterval time.Duration
	MaxFailures    int

	Log zerolog.Logger
}

// Status is a point-in-time snapshot for health and admin endpoints.
type Status struct {
	ServerURL           string     `json:"server_url"`
	ModelName           string     `json:"model_name"`
	State               State      `json:"state"`
	IsHealthy           bool       `json:"is_healthy"`
	RestartCount        int        `json:"restart_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastHealthCheck     *time.Time `json:"last_health_check,omitempty"`
	LastHealthy         *time.Time `json:"last_healthy,omitempty"`
	WatchdogRunning     bool       `json:"watchdog_running"`
}

// Supervisor owns the whisper-server subprocess: spawn, readiness gate,
// periodic health probe, restart on failure, and model swap by respawn.
// At most one engine process is owned at a time.
type Supervisor struct {
	opts   SupervisorOptions
	client *Client
	log    zerolog.Logger

	mu          sync.Mutex
	cmd         *exec.Cmd
	state       State
	modelName   string
	restarts    int
	failures    int
	lastCheck   time.Time
	lastHealthy time.Time
	watchdogOn  bool
	everReady   bool

	// fatal receives the terminal error when a restart cycle cannot
	// bring the engine back. main exits non-zero on it.
	fatal chan error
}

// NewSupervisor creates a supervisor. Start must be called before Run.
func NewSupervisor(opts SupervisorOptions, client *Client) *Supervisor {
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 60 * time.Second
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 60 * time.Second
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 2
	}
	return &Supervisor{
		opts:      opts,
		client:    client,
		log:       opts.Log,
		state:     StateStopped,
		modelName: opts.ModelName,
		fatal:     make(chan error, 1),
	}
}

// Fatal returns a channel that yields the terminal error if the
// supervisor gives up restarting the engine.
func (s *Supervisor) Fatal() <-chan error { return s.fatal }

// Ready reports whether the engine has reached Ready at least once.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.everReady
}

// ModelName returns the currently selected model.
func (s *Supervisor) ModelName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelName
}

func (s *Supervisor) modelPath() string {
	s.mu.Lock()
	name := s.modelName
	s.mu.Unlock()
	return filepath.Join(s.opts.ModelsDir, ModelFile(name))
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	if st == StateReady {
		s.everReady = true
	}
	s.mu.Unlock()
}

// Start launches the engine and blocks until it is ready or the
// readiness gate times out.
func (s *Supervisor) Start(ctx context.Context) error {
	s.setState(StateStarting)

	if _, err := os.Stat(s.opts.Bin); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("whisper-server binary not found: %s", s.opts.Bin)
	}
	modelPath := s.modelPath()
	if _, err := os.Stat(modelPath); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("whisper model not found: %s", modelPath)
	}

	// An engine left over from a previous run holds the port.
	s.killOrphans()

	args := []string{
		"--model", modelPath,
		"--host", s.opts.Host,
		"--port", strconv.Itoa(s.opts.Port),
		"--no-timestamps",
		"--language", "en",
		"--prompt", s.opts.Prompt,
	}

	cmd := exec.Command(s.opts.Bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	s.log.Info().Str("bin", s.opts.Bin).Strs("args", args).Msg("starting whisper-server")

	if err := cmd.Start(); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("start whisper-server: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	// Reap the child so a crashed engine doesn't linger as a zombie.
	go func() { _ = cmd.Wait() }()

	readyCtx, cancel := context.WithTimeout(ctx, s.opts.StartTimeout)
	defer cancel()

	waitStart := time.Now()
	if !s.client.WaitReady(readyCtx) {
		s.setState(StateFailed)
		return fmt.Errorf("whisper-server not ready after %s", s.opts.StartTimeout)
	}

	s.mu.Lock()
	s.failures = 0
	s.lastHealthy = time.Now()
	s.mu.Unlock()
	s.setState(StateReady)

	s.log.Info().
		Int("pid", cmd.Process.Pid).
		Dur("ready_after", time.Since(waitStart)).
		Str("model", s.ModelName()).
		Msg("whisper-server ready")
	return nil
}

// Stop terminates the owned engine process: SIGTERM, up to 5s grace,
// then SIGKILL.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		s.killOrphans()
		s.setState(StateStopped)
		return
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Debug().Err(err).Int("pid", pid).Msg("SIGTERM failed, process likely gone")
		s.setState(StateStopped)
		return
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
			s.log.Info().Int("pid", pid).Msg("whisper-server terminated")
			s.setState(StateStopped)
			return
		}
		time.Sleep(500 * time.Millisecond)
	}

	s.log.Warn().Int("pid", pid).Msg("whisper-server did not terminate, sending SIGKILL")
	_ = cmd.Process.Kill()
	s.setState(StateStopped)
}

// Restart performs a full stop/start cycle, incrementing the restart
// counter. Called by the watchdog and by model swap.
func (s *Supervisor) Restart(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.restarts++
	n := s.restarts
	s.mu.Unlock()
	metrics.EngineRestartsTotal.Inc()

	s.log.Info().Int("restart", n).Str("reason", reason).Msg("restarting whisper-server")
	s.setState(StateRestarting)

	s.Stop()
	time.Sleep(500 * time.Millisecond)

	if err := s.Start(ctx); err != nil {
		s.log.Error().Err(err).Int("restart", n).Msg("whisper-server restart failed")
		return err
	}

	s.log.Info().Int("restart", n).Msg("whisper-server restarted")
	return nil
}

// SwitchModel selects a new model and restarts the engine with it.
// The out-of-process backend cannot swap in place; the swap is a full
// restart cycle, performed synchronously under the supervisor only.
func (s *Supervisor) SwitchModel(ctx context.Context, name string) error {
	if !ValidModel(name) {
		return fmt.Errorf("unknown model %q", name)
	}

	s.mu.Lock()
	old := s.modelName
	s.modelName = name
	s.mu.Unlock()

	if err := s.Restart(ctx, "model switch to "+name); err != nil {
		s.mu.Lock()
		s.modelName = old
		s.mu.Unlock()
		return err
	}
	return nil
}

// Preload blocks until the engine answers a health probe, returning the
// wait time. Used by the warm-up endpoint.
func (s *Supervisor) Preload(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if s.client.Health(ctx) {
		return time.Since(start), nil
	}
	readyCtx, cancel := context.WithTimeout(ctx, s.opts.StartTimeout)
	defer cancel()
	if !s.client.WaitReady(readyCtx) {
		return time.Since(start), fmt.Errorf("%w: engine did not become ready", ErrEngineDown)
	}
	return time.Since(start), nil
}

// Run is the watchdog loop. It probes the engine every HealthInterval
// and restarts it after MaxFailures consecutive failures. A failed
// restart is terminal: the error is delivered on Fatal so the process
// can exit non-zero and let the container orchestrator take over.
// Probing is suspended while the supervisor is starting or restarting.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	s.watchdogOn = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.watchdogOn = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.opts.HealthInterval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.opts.HealthInterval).Msg("whisper watchdog started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("whisper watchdog stopped")
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		state := s.state
		s.lastCheck = time.Now()
		s.mu.Unlock()

		if state == StateStarting || state == StateRestarting {
			continue
		}

		if s.client.Health(ctx) {
			s.mu.Lock()
			recovered := s.failures > 0
			s.failures = 0
			s.lastHealthy = time.Now()
			s.mu.Unlock()
			if recovered {
				s.log.Info().Msg("whisper-server recovered")
			}
			s.setState(StateReady)
			continue
		}

		s.mu.Lock()
		s.failures++
		failures := s.failures
		s.mu.Unlock()
		s.setState(StateUnhealthy)

		s.log.Warn().
			Int("failures", failures).
			Int("max", s.opts.MaxFailures).
			Msg("whisper-server unhealthy")

		if failures < s.opts.MaxFailures {
			continue
		}

		if err := s.Restart(ctx, fmt.Sprintf("%d consecutive failed health checks", failures)); err != nil {
			select {
			case s.fatal <- fmt.Errorf("whisper-server restart failed: %w", err):
			default:
			}
			return
		}

		s.mu.Lock()
		s.failures = 0
		s.mu.Unlock()
	}
}

// Status returns a snapshot without probing the engine.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ServerURL:           s.client.URL(),
		ModelName:           s.modelName,
		State:               s.state,
		IsHealthy:           s.state == StateReady,
		RestartCount:        s.restarts,
		ConsecutiveFailures: s.failures,
		WatchdogRunning:     s.watchdogOn,
	}
	if !s.lastCheck.IsZero() {
		t := s.lastCheck
		st.LastHealthCheck = &t
	}
	if !s.lastHealthy.IsZero() {
		t := s.lastHealthy
		st.LastHealthy = &t
	}
	return st
}

// killOrphans finds and kills whisper-server processes this supervisor
// does not own. PID discovery is the fallback for adopting an orphan at
// startup; the owned process is always terminated via its handle.
func (s *Supervisor) killOrphans() {
	out, err := exec.Command("pgrep", "-f", "whisper-server.*--port").Output()
	if err != nil {
		return
	}
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid == os.Getpid() {
			continue
		}
		s.log.Info().Int("pid", pid).Msg("killing orphan whisper-server")
		_ = syscall.Kill(pid, syscall.SIGTERM)

		terminated := false
		for i := 0; i < 10; i++ {
			time.Sleep(500 * time.Millisecond)
			if err := syscall.Kill(pid, 0); err != nil {
				terminated = true
				break
			}
		}
		if !terminated {
			s.log.Warn().Int("pid", pid).Msg("orphan did not terminate, sending SIGKILL")
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}
}
