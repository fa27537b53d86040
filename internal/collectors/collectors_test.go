package collectors

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestBytesConversions(t *testing.T) {
	assert.InDelta(t, 1.0, bytesToMB(1024*1024), 0.0001)
	assert.InDelta(t, 1.0, bytesToGB(1024*1024*1024), 0.0001)
}

func TestSafeDelta(t *testing.T) {
	assert.Equal(t, uint64(5), safeDelta(10, 5))
	assert.Equal(t, uint64(0), safeDelta(5, 10), "counter reset should not underflow")
}

func TestParseLockFile(t *testing.T) {
	data := []byte(`{"pid":1234,"startTime":1000,"lastHeartbeat":2000}`)
	rec, ok := parseLockFile(data)
	assert.True(t, ok)
	assert.Equal(t, 1234, rec.PID)
	assert.Equal(t, int64(2000), rec.LastHeartbeat)

	_, ok = parseLockFile([]byte("not json"))
	assert.False(t, ok)
}

func TestAppCollector_CrashDetection(t *testing.T) {
	c := NewAppCollector(testLogger(), "app", "server", "", "")

	// first observation establishes a baseline PID, no crash yet
	c.mu.Lock()
	c.appPID = 1000
	c.mu.Unlock()
	assert.False(t, c.ConsumeCrash())

	// PID changes underneath the same process name: one crash
	c.mu.Lock()
	newPID := int32(1002)
	if c.appPID != 0 && newPID != c.appPID {
		c.recordCrash()
	}
	c.appPID = newPID
	c.mu.Unlock()

	assert.True(t, c.ConsumeCrash())
	assert.False(t, c.ConsumeCrash(), "flag should clear after being consumed")

	var app protocol.AppMetrics
	c.ApplyTo(&app)
	assert.Equal(t, 1, app.CrashCountToday)
}
