// Command watchdog runs the per-host ops agent: telemetry/health
// publishing, command/ack processing, and the WebRTC signaling bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/config"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/localhub"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/orchestrator"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	showHelp := flag.Bool("help", false, "show usage")
	runCheck := flag.Bool("check", false, "validate configuration and exit")

	flag.BoolVar(showVersion, "v", false, "print version and exit")
	flag.BoolVar(showHelp, "h", false, "show usage")

	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("watchdog %s\n", Version)
		os.Exit(0)
	}
	if *showHelp {
		printUsage()
		os.Exit(0)
	}
	if *runCheck {
		os.Exit(runConfigCheck())
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Logger()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	cfg.AgentVersion = Version

	switch cfg.LogLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("version", Version).
		Str("wallId", cfg.WallID).
		Str("hostname", cfg.Hostname).
		Msg("watchdog agent starting")

	hub := localhub.New(log)
	orch := orchestrator.New(cfg, log, hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("received shutdown signal")
		orch.Shutdown()
	}()

	if err := orch.Run(context.Background()); err != nil {
		log.Error().Err(err).Msg("agent exited with error")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`Usage: watchdog [options]

watchdog %s - per-host operations agent for a display-wall endpoint.

Options:
  -v, --version   Print version and exit
  -h, --help      Print this help and exit
  --check         Validate configuration and exit

Environment variables:
  WATCHDOG_WALL_ID                  Wall identifier (required)
  WATCHDOG_BROKER_PRIMARY_URL       Primary broker URL (required)
  WATCHDOG_BROKER_PRIMARY_USER      Primary broker username
  WATCHDOG_BROKER_PRIMARY_PASSWORD  Primary broker password
  WATCHDOG_BROKER_SECONDARY_URL     Secondary broker URL
  WATCHDOG_BROKER_SECONDARY_USER    Secondary broker username
  WATCHDOG_BROKER_SECONDARY_PASSWORD  Secondary broker password
  WATCHDOG_LOCAL_HUB_ADDR           Single-instance guard address (default 127.0.0.1:8787)
  WATCHDOG_LOCAL_SERVER_PROBE       URL probed for local-server reachability
  WATCHDOG_INTERNET_PROBE_URL       URL probed for internet reachability
  WATCHDOG_MEDIA_ENGINE_BIN         Path to the media engine binary (required)
  WATCHDOG_MEDIA_ENGINE_STUN        STUN server passed to the media engine
  WATCHDOG_MEDIA_ENGINE_STREAM      Stream name passed to the media engine
  WATCHDOG_MEDIA_ENGINE_PORTS       Comma-separated candidate control ports
  WATCHDOG_TURN_PRIMARY_URL         Primary TURN credential provider
  WATCHDOG_TURN_FALLBACK_URL        Fallback TURN credential provider
  WATCHDOG_TURN_PUBLIC_RELAY        Last-resort public STUN/TURN relay
  WATCHDOG_APP_PROCESS_NAME         Supervised application process/unit name
  WATCHDOG_SERVER_PROCESS_NAME      Supervised server process/unit name
  WATCHDOG_LOCK_FILE_PATH           Application lock-file path
  WATCHDOG_LOG_FILE_PATH            Application log-file path
  WATCHDOG_LOG_LEVEL                Log level: debug, info, warn, error
  WATCHDOG_HOSTNAME                 Override hostname detection
`, Version)
}

func runConfigCheck() int {
	fmt.Println("Checking configuration...")
	fmt.Println()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Printf("config error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("config invalid: %v\n", err)
		return 1
	}

	fmt.Println("config OK")
	fmt.Printf("  Wall ID:       %s\n", cfg.WallID)
	fmt.Printf("  Hostname:      %s\n", cfg.Hostname)
	fmt.Printf("  Active broker: %s\n", cfg.ActiveBroker)
	for _, b := range cfg.Brokers {
		fmt.Printf("    - %s (%s) %s\n", b.ID, b.Label, b.ServerURL)
	}
	fmt.Printf("  Media engine:  %s\n", cfg.MediaEngineBin)
	fmt.Printf("  Local hub:     %s\n", cfg.LocalHubAddr)

	fmt.Println()
	fmt.Println("Probing brokers...")
	for _, b := range cfg.Brokers {
		if err := probeBroker(b.ServerURL); err != nil {
			fmt.Printf("  - %s (%s): unreachable: %v\n", b.ID, b.ServerURL, err)
		} else {
			fmt.Printf("  - %s (%s): reachable\n", b.ID, b.ServerURL)
		}
	}

	return 0
}

// probeBroker dials the broker's host:port to confirm basic TCP reachability;
// it does not perform the MQTT handshake itself.
func probeBroker(serverURL string) error {
	u, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}

	conn, err := net.DialTimeout("tcp", u.Host, 3*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}
