package command

import (
	"context"
	"fmt"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

// ProcessController starts, stops, and restarts the supervised target
// application, per spec 4.6's RESTART_VUOS/START_VUOS/STOP_VUOS handlers.
type ProcessController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
}

// BrokerSwitcher is the subset of the broker client's interface the
// SWITCH_BROKER handler needs.
type BrokerSwitcher interface {
	SwitchBroker(ctx context.Context, targetID, reason string) error
}

// Shutdowner terminates the watchdog process itself (QUIT_WATCHDOG).
type Shutdowner interface {
	Shutdown()
}

// TelemetryRequester triggers an out-of-cadence telemetry or config publish.
type TelemetryRequester interface {
	PublishTelemetryNow()
	PublishConfigNow()
}

// StreamController is the signaling bridge's lifecycle surface, driven by
// the START_STREAM/STOP_STREAM/SET_STREAM_QUALITY handlers.
type StreamController interface {
	Start(ctx context.Context, monitor int, quality protocol.StreamQuality) error
	Stop(ctx context.Context) error
	SetQuality(ctx context.Context, quality protocol.StreamQuality) error
}

// Dependencies collects every external side effect the standard command
// set needs, so RegisterStandard stays a pure wiring function.
type Dependencies struct {
	Process   ProcessController
	Brokers   BrokerSwitcher
	Watchdog  Shutdowner
	Telemetry TelemetryRequester
	Stream    StreamController
}

// RegisterStandard populates registry with every entry of spec 4.6's
// standard command set. Lease-required flags follow spec 4.5: REQUEST_*
// and streaming commands require no lease.
func RegisterStandard(registry *Registry, deps Dependencies) {
	registry.Add(Definition{
		Type: protocol.CommandRestartVuos, RequiresLease: true, LocalBypass: true,
		Handler: func(ctx context.Context, _ map[string]any) (Result, error) {
			if err := deps.Process.Restart(ctx); err != nil {
				return Result{}, err
			}
			return Result{Message: "restarted"}, nil
		},
	})
	registry.Add(Definition{
		Type: protocol.CommandStartVuos, RequiresLease: true, LocalBypass: true,
		Handler: func(ctx context.Context, _ map[string]any) (Result, error) {
			if err := deps.Process.Start(ctx); err != nil {
				return Result{}, err
			}
			return Result{Message: "started"}, nil
		},
	})
	registry.Add(Definition{
		Type: protocol.CommandStopVuos, RequiresLease: true, LocalBypass: true,
		Handler: func(ctx context.Context, _ map[string]any) (Result, error) {
			if err := deps.Process.Stop(ctx); err != nil {
				return Result{}, err
			}
			return Result{Message: "stopped"}, nil
		},
	})
	registry.Add(Definition{
		Type: protocol.CommandQuitWatchdog, RequiresLease: true, LocalBypass: true,
		Handler: func(ctx context.Context, _ map[string]any) (Result, error) {
			deps.Watchdog.Shutdown()
			return Result{Message: "shutting down"}, nil
		},
	})
	registry.Add(Definition{
		Type: protocol.CommandSwitchBroker, RequiresLease: true, LocalBypass: true,
		Handler: func(ctx context.Context, args map[string]any) (Result, error) {
			brokerID, ok := stringArg(args, "brokerId")
			if !ok {
				return Result{}, fmt.Errorf("command: SWITCH_BROKER requires brokerId")
			}
			if err := deps.Brokers.SwitchBroker(ctx, brokerID, "command"); err != nil {
				return Result{}, err
			}
			return Result{Message: "switched", Details: map[string]any{"brokerId": brokerID}}, nil
		},
	})
	registry.Add(Definition{
		Type: protocol.CommandRequestTelemetry, RequiresLease: false,
		Handler: func(ctx context.Context, _ map[string]any) (Result, error) {
			deps.Telemetry.PublishTelemetryNow()
			return Result{Message: "telemetry published"}, nil
		},
	})
	registry.Add(Definition{
		Type: protocol.CommandRequestConfig, RequiresLease: false,
		Handler: func(ctx context.Context, _ map[string]any) (Result, error) {
			deps.Telemetry.PublishConfigNow()
			return Result{Message: "config published"}, nil
		},
	})
	registry.Add(Definition{
		Type: protocol.CommandStartStream, RequiresLease: false,
		Handler: func(ctx context.Context, args map[string]any) (Result, error) {
			monitor, _ := intArg(args, "monitor")
			quality := qualityArg(args, "quality")
			if err := deps.Stream.Start(ctx, monitor, quality); err != nil {
				return Result{}, err
			}
			return Result{Message: "stream started"}, nil
		},
	})
	registry.Add(Definition{
		Type: protocol.CommandStopStream, RequiresLease: false,
		Handler: func(ctx context.Context, _ map[string]any) (Result, error) {
			if err := deps.Stream.Stop(ctx); err != nil {
				return Result{}, err
			}
			return Result{Message: "stream stopped"}, nil
		},
	})
	registry.Add(Definition{
		Type: protocol.CommandSetStreamQuality, RequiresLease: false,
		Handler: func(ctx context.Context, args map[string]any) (Result, error) {
			quality := qualityArg(args, "quality")
			if err := deps.Stream.SetQuality(ctx, quality); err != nil {
				return Result{}, err
			}
			return Result{Message: "quality applied"}, nil
		},
	})
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func floatArg(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

func qualityArg(args map[string]any, key string) protocol.StreamQuality {
	raw, ok := args[key].(map[string]any)
	if !ok {
		return protocol.StreamQuality{}
	}
	return protocol.StreamQuality{
		Width:   int(floatArg(raw, "width")),
		Height:  int(floatArg(raw, "height")),
		FPS:     int(floatArg(raw, "fps")),
		Bitrate: int(floatArg(raw, "bitrate")),
	}
}
