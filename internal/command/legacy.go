package command

import (
	"context"
	"time"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const legacyClientID = "legacy"

// legacyActionMap is the fixed action->type translation for the legacy
// control topic. It never grows new entries.
var legacyActionMap = map[string]protocol.CommandType{
	"restart":       protocol.CommandRestartVuos,
	"start":         protocol.CommandStartVuos,
	"stop":          protocol.CommandStopVuos,
	"quit":          protocol.CommandQuitWatchdog,
	"switch_broker": protocol.CommandSwitchBroker,
}

// HandleLegacy translates a legacy {action, args} envelope and dispatches
// it through the same pipeline as any other command. Unknown actions are
// logged and dropped, never forwarded to Handle.
func (p *Processor) HandleLegacy(ctx context.Context, env protocol.LegacyEnvelope) {
	cmdType, ok := legacyActionMap[env.Action]
	if !ok {
		p.log.Warn().Str("action", env.Action).Msg("unknown legacy action, dropping")
		return
	}

	p.Handle(ctx, protocol.CommandEnvelope{
		Schema:    protocol.SchemaCommand,
		Ts:        time.Now().UnixMilli(),
		CommandID: "legacy-" + env.Action + "-" + time.Now().Format("150405.000"),
		TTLMs:     localCommandTTLMs,
		Type:      cmdType,
		Args:      env.Args,
	}, legacyClientID, false)
}
