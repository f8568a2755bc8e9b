package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"crosspost/internal/api"
	"crosspost/internal/config"
	"crosspost/internal/host"
	"crosspost/internal/observability/pprof"
	"crosspost/internal/publisher"
	"crosspost/internal/storage"
	"crosspost/internal/target"
	"crosspost/internal/transfer"
	logx "crosspost/pkg/logx"
)

// Config section mapping: raw config (duration strings, optional fields)
// into per-service config structs. Each mapper re-validates so a bad
// hot-reload never reaches a running service.

func mapPublisherConfig(cfg *config.Config) (publisher.Config, error) {
	if cfg == nil {
		return publisher.Config{}, nil
	}
	p := cfg.Publisher

	groupPause, err := config.ParseDurationField("publisher.group_pause", p.GroupPause)
	if err != nil {
		return publisher.Config{}, err
	}
	hsInterval, err := config.ParseDurationField("publisher.handshake_interval", p.HandshakeInterval)
	if err != nil {
		return publisher.Config{}, err
	}
	settle, err := config.ParseDurationField("publisher.settle", p.Settle)
	if err != nil {
		return publisher.Config{}, err
	}
	handoff, err := config.ParseDurationField("publisher.handoff_timeout", p.HandoffTimeout)
	if err != nil {
		return publisher.Config{}, err
	}
	open, err := config.ParseDurationField("publisher.open_timeout", p.OpenTimeout)
	if err != nil {
		return publisher.Config{}, err
	}
	jitterBase, err := config.ParseDurationField("publisher.jitter_base", p.JitterBase)
	if err != nil {
		return publisher.Config{}, err
	}
	jitterRand, err := config.ParseDurationField("publisher.jitter_rand", p.JitterRand)
	if err != nil {
		return publisher.Config{}, err
	}

	return publisher.Config{
		Enabled:           p.Enabled,
		MaxConcurrency:    p.MaxConcurrency,
		GroupPause:        groupPause,
		HandshakeAttempts: p.HandshakeAttempts,
		HandshakeInterval: hsInterval,
		Settle:            settle,
		HandoffTimeout:    handoff,
		OpenTimeout:       open,
		OpenRatePerSec:    p.OpenRatePerSec,
		JitterBase:        jitterBase,
		JitterRand:        jitterRand,
	}, nil
}

func mapTransferConfig(cfg *config.Config) (transfer.Config, error) {
	if cfg == nil {
		return transfer.Config{}, nil
	}
	t := cfg.Transfer
	if t.ChunkSize < 0 {
		return transfer.Config{}, errors.New("transfer.chunk_size must be >= 0")
	}
	if t.DirectMax < 0 {
		return transfer.Config{}, errors.New("transfer.direct_max must be >= 0")
	}
	return transfer.Config{ChunkSize: t.ChunkSize, DirectMax: t.DirectMax}, nil
}

// mapBlobSweep returns the eviction TTL and cron schedule. TTL 0 disables
// sweeping; an empty schedule defaults to hourly.
func mapBlobSweep(cfg *config.Config) (time.Duration, string, error) {
	if cfg == nil {
		return 0, "", nil
	}
	ttl, err := config.ParseDurationField("blob.ttl", cfg.Blob.TTL)
	if err != nil {
		return 0, "", err
	}
	schedule := strings.TrimSpace(cfg.Blob.SweepSchedule)
	if schedule == "" {
		schedule = "@hourly"
	}
	return ttl, schedule, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	s := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	if strings.TrimSpace(s.Path) == "" {
		return storage.Config{}, false, errors.New("storage.path is required")
	}
	return storage.Config{Driver: driver, Path: s.Path, BusyTimeout: busy}, true, nil
}

func mapAPIConfig(cfg *config.Config) (api.Config, error) {
	if cfg == nil {
		return api.Config{}, nil
	}
	a := cfg.API
	readTO, err := config.ParseDurationOrDefault("api.read_timeout", a.ReadTimeout, 30*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	writeTO, err := config.ParseDurationOrDefault("api.write_timeout", a.WriteTimeout, 60*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Enabled:      a.Enabled,
		Addr:         a.Addr,
		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
	}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	if cfg == nil {
		return pprof.Config{}, nil
	}
	p := cfg.Pprof
	readTO, err := config.ParseDurationField("pprof.read_timeout", p.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	writeTO, err := config.ParseDurationField("pprof.write_timeout", p.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:      p.Enabled,
		Addr:         p.Addr,
		Token:        p.Token,
		ReadTimeout:  readTO,
		WriteTimeout: writeTO,
	}, nil
}

func targetsFromConfig(cfg *config.Config) []target.Target {
	if cfg == nil {
		return nil
	}
	return target.FromConfig(cfg.Targets)
}

// openHost builds the configured execution-context host. The *Bridge return
// is non-nil only for the bridge driver, whose long-poll loop the app
// supervises.
func openHost(hc config.HostConfig, log logx.Logger) (host.Host, *host.Bridge, error) {
	driver := strings.ToLower(strings.TrimSpace(hc.Driver))
	switch driver {
	case "", "bridge":
		b, err := host.NewBridge(host.BridgeConfig{
			BaseURL: hc.BridgeURL,
			Token:   hc.Token,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case "fake":
		return host.NewFake(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown host driver: %s", driver)
	}
}
