package collectors

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/config"
)

// Collectors aggregates every background sampler the Assembler reads from on
// its 2s tick. Each sub-collector owns its own cadence and cache; Collectors
// itself holds no mutable state beyond the sub-collectors it wires together.
type Collectors struct {
	System  *SystemCollector
	GPU     *GPUCollector
	Disk    *DiskUsageCollector
	DiskIO  *DiskIOCollector
	Thermal *ThermalCollector
	Updates *UpdatesCollector
	EventLog *EventLogCollector
	App     *AppCollector
	Network *NetworkCollector
}

// New wires every collector from configuration.
func New(cfg *config.Config, log zerolog.Logger) *Collectors {
	return &Collectors{
		System:   NewSystemCollector(log),
		GPU:      NewGPUCollector(log),
		Disk:     NewDiskUsageCollector(log),
		DiskIO:   NewDiskIOCollector(log),
		Thermal:  NewThermalCollector(log),
		Updates:  NewUpdatesCollector(log),
		EventLog: NewEventLogCollector(log),
		App:      NewAppCollector(log, cfg.AppProcessName, cfg.ServerProcessName, cfg.LockFilePath, cfg.LogFilePath),
		Network:  NewNetworkCollector(log, cfg.InternetProbeURL, cfg.LocalServerProbe),
	}
}

// Run starts every sub-collector's background loop and blocks until ctx is
// cancelled or one of them returns a non-nil error, cancelling the rest
// (the teacher's supervised-goroutine idiom, generalized with errgroup).
func (c *Collectors) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.System.Run(ctx) })
	g.Go(func() error { return c.GPU.Run(ctx) })
	g.Go(func() error { return c.Disk.Run(ctx) })
	g.Go(func() error { return c.DiskIO.Run(ctx) })
	g.Go(func() error { return c.Thermal.Run(ctx) })
	g.Go(func() error { return c.Updates.Run(ctx) })
	g.Go(func() error { return c.EventLog.Run(ctx) })
	g.Go(func() error { return c.App.RunProcessWatch(ctx) })
	g.Go(func() error { return c.App.RunLogWatch(ctx) })
	g.Go(func() error { return c.Network.RunInternetProbe(ctx) })
	g.Go(func() error { return c.Network.RunLocalProbe(ctx) })

	return g.Wait()
}
