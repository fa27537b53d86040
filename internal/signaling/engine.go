// Package signaling implements the WebRTC signaling bridge: the external
// media engine's subprocess supervisor, its HTTP control-plane client, and
// the per-viewer offer/answer/ICE relay state machine.
package signaling

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/config"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const (
	portReleaseWait  = 1500 * time.Millisecond
	healthPollCap    = 10 * time.Second
	healthPollEvery  = 200 * time.Millisecond
	termGrace        = 5 * time.Second
)

// EngineState mirrors StreamingStatusPayload's transient fields while the
// subprocess is live.
type EngineState struct {
	Status    string
	PID       int
	Port      int
	StartedAt int64
	Monitor   int
	Quality   protocol.StreamQuality
}

// EngineSupervisor owns the external media engine's process lifecycle,
// grounded on the teacher's exec/SIGTERM/SIGKILL process-control idiom in
// internal/agent/commands.go.
type EngineSupervisor struct {
	cfg *config.Config
	log zerolog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	state EngineState
}

// NewEngineSupervisor builds a supervisor for the configured media engine binary.
func NewEngineSupervisor(cfg *config.Config, log zerolog.Logger) *EngineSupervisor {
	return &EngineSupervisor{
		cfg: cfg,
		log: log.With().Str("component", "signaling.engine").Logger(),
	}
}

// State returns a snapshot of the current process state.
func (s *EngineSupervisor) State() EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start terminates any prior instance, launches the media engine targeting
// the given monitor and quality, and waits for its control port to answer,
// per spec 4.7's "Subprocess supervisor".
func (s *EngineSupervisor) Start(ctx context.Context, monitor int, quality protocol.StreamQuality) error {
	if err := s.Stop(ctx); err != nil {
		s.log.Warn().Err(err).Msg("stopping previous instance before start")
	}
	time.Sleep(portReleaseWait)

	port, ok := pickFreePort(s.cfg.MediaEnginePorts)
	if !ok {
		return fmt.Errorf("signaling: no free port among %v", s.cfg.MediaEnginePorts)
	}

	listenAddr := fmt.Sprintf("127.0.0.1:%d", port)
	captureURL := fmt.Sprintf("screen://%d", monitor)

	args := []string{
		"--listen", listenAddr,
		"--stun", s.cfg.MediaEngineSTUN,
		"--stream", s.cfg.MediaEngineStream,
		"--capture", captureURL,
		"--width", strconv.Itoa(quality.Width),
		"--height", strconv.Itoa(quality.Height),
		"--fps", strconv.Itoa(quality.FPS),
		"--bitrate", strconv.Itoa(quality.Bitrate),
	}

	cmd := exec.Command(s.cfg.MediaEngineBin, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("signaling: start media engine: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = EngineState{
		Status: "starting", PID: cmd.Process.Pid, Port: port,
		StartedAt: time.Now().UnixMilli(), Monitor: monitor, Quality: quality,
	}
	s.mu.Unlock()

	go s.watchExit(cmd)

	if err := s.waitHealthy(ctx, port); err != nil {
		_ = s.Stop(ctx)
		return err
	}

	s.mu.Lock()
	s.state.Status = "running"
	s.mu.Unlock()
	return nil
}

func (s *EngineSupervisor) watchExit(cmd *exec.Cmd) {
	_ = cmd.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == cmd {
		s.state = EngineState{Status: "stopped"}
		s.cmd = nil
	}
}

func (s *EngineSupervisor) waitHealthy(ctx context.Context, port int) error {
	deadline := time.Now().Add(healthPollCap)
	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	for time.Now().Before(deadline) {
		if probeHTTP(ctx, url) {
			return nil
		}
		time.Sleep(healthPollEvery)
	}
	return fmt.Errorf("signaling: media engine on port %d did not become healthy within %s", port, healthPollCap)
}

// Stop terminates the running instance: SIGTERM, a grace window, then
// SIGKILL, mirroring the teacher's handleStop process-group teardown.
func (s *EngineSupervisor) Stop(_ context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(termGrace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-done
	}

	s.mu.Lock()
	s.state = EngineState{Status: "stopped"}
	s.cmd = nil
	s.mu.Unlock()
	return nil
}

// pickFreePort probes the configured port list via ephemeral listen
// attempts, returning the first one available.
func pickFreePort(candidates []int) (int, bool) {
	for _, port := range candidates {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, true
	}
	return 0, false
}
