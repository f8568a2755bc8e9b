package config

import (
	"fmt"
	"strings"
)

// Validate checks cross-field constraints that the strict decoder can't.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	seen := map[string]bool{}
	for i, t := range cfg.Targets {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return fmt.Errorf("targets[%d]: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("targets[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
		if strings.TrimSpace(t.Endpoint) == "" {
			return fmt.Errorf("targets[%d] (%s): endpoint is required", i, id)
		}
		if t.MultiStage && strings.TrimSpace(t.HandoffMarker) == "" {
			return fmt.Errorf("targets[%d] (%s): multi_stage requires handoff_marker", i, id)
		}
		switch strings.TrimSpace(t.Variant) {
		case "", "article", "media":
		default:
			return fmt.Errorf("targets[%d] (%s): unknown variant %q", i, id, t.Variant)
		}
	}

	if cfg.Transfer.ChunkSize < 0 {
		return fmt.Errorf("transfer.chunk_size must be >= 0")
	}
	if cfg.Transfer.DirectMax < 0 {
		return fmt.Errorf("transfer.direct_max must be >= 0")
	}

	if h := cfg.Host; strings.EqualFold(strings.TrimSpace(h.Driver), "bridge") {
		if strings.TrimSpace(h.BridgeURL) == "" {
			return fmt.Errorf("host.bridge_url is required for the bridge driver")
		}
	}

	// Durations are parsed eagerly so a bad string fails reload instead of
	// silently falling back to a default at use time.
	durations := []struct{ path, raw string }{
		{"publisher.group_pause", cfg.Publisher.GroupPause},
		{"publisher.handshake_interval", cfg.Publisher.HandshakeInterval},
		{"publisher.settle", cfg.Publisher.Settle},
		{"publisher.handoff_timeout", cfg.Publisher.HandoffTimeout},
		{"publisher.open_timeout", cfg.Publisher.OpenTimeout},
		{"publisher.jitter_base", cfg.Publisher.JitterBase},
		{"publisher.jitter_rand", cfg.Publisher.JitterRand},
		{"transfer.session_grace", cfg.Transfer.SessionGrace},
		{"blob.ttl", cfg.Blob.TTL},
		{"api.read_timeout", cfg.API.ReadTimeout},
		{"api.write_timeout", cfg.API.WriteTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
