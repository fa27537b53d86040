package signaling

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/config"
	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

const turnFetchTimeout = 5 * time.Second

// DiscoverICEServers fetches short-lived TURN credentials from the primary
// provider, falls back to the secondary, and finally to the configured
// public relay, per spec 4.7's "ICE server discovery".
func DiscoverICEServers(ctx context.Context, cfg *config.Config, log zerolog.Logger) []protocol.ICEServer {
	if cfg.TURNPrimaryURL != "" {
		if servers, err := fetchTURNCredentials(ctx, cfg.TURNPrimaryURL); err == nil {
			return servers
		} else {
			log.Warn().Err(err).Msg("primary TURN provider unavailable")
		}
	}
	if cfg.TURNFallbackURL != "" {
		if servers, err := fetchTURNCredentials(ctx, cfg.TURNFallbackURL); err == nil {
			return servers
		} else {
			log.Warn().Err(err).Msg("fallback TURN provider unavailable")
		}
	}
	return []protocol.ICEServer{{URLs: []string{cfg.TURNPublicRelay}}}
}

func fetchTURNCredentials(ctx context.Context, providerURL string) ([]protocol.ICEServer, error) {
	ctx, cancel := context.WithTimeout(ctx, turnFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, providerURL, nil)
	if err != nil {
		return nil, err
	}
	client := http.Client{Timeout: turnFetchTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var servers []protocol.ICEServer
	if err := json.Unmarshal(body, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}
