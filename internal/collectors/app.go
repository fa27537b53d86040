package collectors

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const (
	processInterval = 5 * time.Second
	appLogInterval  = 10 * time.Second
	lockStaleAgeMs  = 15000
)

// AppCollector watches the supervised application and its supporting server:
// process liveness and crash detection every 5s, the heartbeat lock file on
// every assembler tick (cheap enough to read synchronously), and the
// application's own recent-error log every 10s.
type AppCollector struct {
	log               zerolog.Logger
	appProcessName    string
	serverProcessName string
	lockFilePath      string
	logFilePath       string

	mu              sync.RWMutex
	appRunning      bool
	appPID          int32
	appMemoryMB     *float64
	serverRunning   bool
	crashCountToday int
	crashDate       string
	crashPending    bool
	logSummary      protocol.AppLogSummary
}

// NewAppCollector constructs an AppCollector for the configured process/file names.
func NewAppCollector(log zerolog.Logger, appProcessName, serverProcessName, lockFilePath, logFilePath string) *AppCollector {
	return &AppCollector{
		log:               log.With().Str("collector", "app").Logger(),
		appProcessName:    appProcessName,
		serverProcessName: serverProcessName,
		lockFilePath:      lockFilePath,
		logFilePath:       logFilePath,
	}
}

// RunProcessWatch samples process liveness and crash detection on a 5s ticker.
func (c *AppCollector) RunProcessWatch(ctx context.Context) error {
	c.sampleProcesses(ctx)
	ticker := time.NewTicker(processInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sampleProcesses(ctx)
		}
	}
}

func (c *AppCollector) sampleProcesses(ctx context.Context) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("process list probe failed, keeping cached value")
		return
	}

	var appProc *process.Process
	serverRunning := false
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if name == c.appProcessName && appProc == nil {
			appProc = p
		}
		if name == c.serverProcessName {
			serverRunning = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.serverRunning = serverRunning

	if appProc == nil {
		// Disappearance alone does not count as a crash; the next
		// reappearance with a different PID does (spec 4.2).
		c.appRunning = false
		c.appMemoryMB = nil
		return
	}

	c.appRunning = true
	if memInfo, err := appProc.MemInfoWithContext(ctx); err == nil {
		mb := bytesToMB(memInfo.RSS)
		c.appMemoryMB = &mb
	}

	newPID := appProc.Pid
	if c.appPID != 0 && newPID != c.appPID {
		c.recordCrash()
	}
	c.appPID = newPID
}

func (c *AppCollector) recordCrash() {
	today := time.Now().Format("2006-01-02")
	if c.crashDate != today {
		c.crashDate = today
		c.crashCountToday = 0
	}
	c.crashCountToday++
	c.crashPending = true
}

// RunLogWatch samples the application's recent-error log on a 10s ticker.
func (c *AppCollector) RunLogWatch(ctx context.Context) error {
	c.sampleLog()
	ticker := time.NewTicker(appLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.sampleLog()
		}
	}
}

func (c *AppCollector) sampleLog() {
	if c.logFilePath == "" {
		return
	}
	f, err := os.Open(c.logFilePath)
	if err != nil {
		c.log.Debug().Err(err).Msg("app log probe failed, keeping cached value")
		return
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(strings.ToLower(line), "error") {
			lines = append(lines, line)
		}
	}

	summary := protocol.AppLogSummary{RecentCount: len(lines)}
	if len(lines) > 0 {
		summary.LastMessage = lines[len(lines)-1]
		summary.LastTimeMs = time.Now().UnixMilli()
	}

	c.mu.Lock()
	c.logSummary = summary
	c.mu.Unlock()
}

// ReadLock reads the heartbeat lock file synchronously. Called once per
// assembler tick rather than on its own background cadence, per spec 4.2's
// "each tick" interval for the server-lock collector.
func (c *AppCollector) ReadLock() protocol.LockFileRecord {
	if c.lockFilePath == "" {
		return protocol.LockFileRecord{}
	}
	data, err := os.ReadFile(c.lockFilePath)
	if err != nil {
		return protocol.LockFileRecord{}
	}

	rec, ok := parseLockFile(data)
	if !ok {
		return protocol.LockFileRecord{}
	}

	nowMs := time.Now().UnixMilli()
	rec.HeartbeatAgeMs = nowMs - rec.LastHeartbeat
	rec.Healthy = rec.HeartbeatAgeMs <= lockStaleAgeMs
	return rec
}

func parseLockFile(data []byte) (protocol.LockFileRecord, bool) {
	var rec protocol.LockFileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return protocol.LockFileRecord{}, false
	}
	return rec, true
}

// ApplyTo writes the cached process/crash sample into the given app metrics
// and reads the lock file synchronously for the current tick.
func (c *AppCollector) ApplyTo(app *protocol.AppMetrics) {
	c.mu.RLock()
	app.AppRunning = c.appRunning
	app.ServerRunning = c.serverRunning
	app.AppMemoryMB = c.appMemoryMB
	app.CrashCountToday = c.crashCountToday
	app.Log = c.logSummary
	c.mu.RUnlock()

	app.Lock = c.ReadLock()
}

// ConsumeCrash reports whether a crash was detected since the last call, and
// clears the flag. The orchestrator polls this once per tick so it can emit
// a crash-detection lifecycle event on the same tick it happened.
func (c *AppCollector) ConsumeCrash() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.crashPending
	c.crashPending = false
	return pending
}
