package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Publisher controls the batch publish orchestrator.
	Publisher PublisherConfig `json:"publisher"`

	// Transfer controls the chunked file transfer subsystem.
	Transfer TransferConfig `json:"transfer,omitempty"`

	// Blob controls lifecycle of stored file payloads.
	Blob BlobConfig `json:"blob,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Host    HostConfig     `json:"host,omitempty"`
	API     APIConfig      `json:"api,omitempty"`
	Pprof   PprofConfig    `json:"pprof,omitempty"`

	// Targets is the static destination catalog. Target metadata is supplied
	// by the operator, not discovered at runtime.
	Targets []TargetConfig `json:"targets"`
}

// PublisherConfig controls the batch publish orchestrator.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - max_concurrency: 8
//   - group_pause: "1s"
//   - handshake_attempts: 10
//   - handshake_interval: "1s"
//   - settle: "3s"
//   - handoff_timeout: "10s"
//   - open_timeout: "30s"
//   - jitter_base: "200ms"
//   - jitter_rand: "300ms"
//   - open_rate_per_sec: 0 (unlimited)
type PublisherConfig struct {
	Enabled bool `json:"enabled"`

	// MaxConcurrency bounds how many jobs run at once within a batch.
	MaxConcurrency int `json:"max_concurrency,omitempty"`

	// GroupPause is the fixed pause between job groups within a batch.
	GroupPause string `json:"group_pause,omitempty"`

	HandshakeAttempts int    `json:"handshake_attempts,omitempty"`
	HandshakeInterval string `json:"handshake_interval,omitempty"`

	// Settle is how long a job waits after handing content to the delivery
	// handler, so async field population can finish before status flips.
	Settle string `json:"settle,omitempty"`

	// HandoffTimeout bounds secondary-stage payload delivery for
	// multi-stage targets. Distinct from the handshake timeout.
	HandoffTimeout string `json:"handoff_timeout,omitempty"`

	// OpenTimeout bounds opening a target-side execution context.
	OpenTimeout string `json:"open_timeout,omitempty"`

	// OpenRatePerSec throttles context opens across a batch. 0 = unlimited.
	OpenRatePerSec int `json:"open_rate_per_sec,omitempty"`

	// JitterBase is multiplied by the job's index within its group;
	// JitterRand adds a uniformly random extra delay on top.
	JitterBase string `json:"jitter_base,omitempty"`
	JitterRand string `json:"jitter_rand,omitempty"`
}

// TransferConfig controls chunk sizing and session lifecycle.
//
// Defaults:
//   - chunk_size: 16 MiB
//   - direct_max: 32 MiB (files at or above this are always served chunked)
//   - session_grace: "60s" (completed upload sessions linger to absorb
//     duplicate trailing chunk retries)
type TransferConfig struct {
	ChunkSize    int64  `json:"chunk_size,omitempty"`
	DirectMax    int64  `json:"direct_max,omitempty"`
	SessionGrace string `json:"session_grace,omitempty"`
}

// BlobConfig controls stored file eviction.
//
// TTL "0s" disables time-based eviction. SweepSchedule is a cron expression
// (e.g. "*/10 * * * *"); empty falls back to an hourly sweep when TTL is set.
type BlobConfig struct {
	TTL           string `json:"ttl,omitempty"`
	SweepSchedule string `json:"sweep_schedule,omitempty"`
}

// StorageConfig controls the durable ledger snapshot backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./crosspost_state" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HostConfig selects the execution-context host adapter.
//
// Driver values:
//   - "bridge": HTTP bridge to an external host agent (bridge_url required)
//   - "fake": in-memory host (development/tests)
type HostConfig struct {
	Driver    string `json:"driver,omitempty"`
	BridgeURL string `json:"bridge_url,omitempty"`
	Token     string `json:"token,omitempty"` // optional bearer token (do not log)
}

// APIConfig controls the inbound HTTP surface.
type APIConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:8787"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// PprofConfig controls the optional profiling listener. A token is required
// when the addr is not loopback.
type PprofConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	Token        string `json:"token,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// TargetConfig describes one external destination.
type TargetConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Endpoint is the default submission surface; VideoEndpoint, when set,
	// is used for content that carries video.
	Endpoint      string `json:"endpoint"`
	VideoEndpoint string `json:"video_endpoint,omitempty"`

	// MultiStage marks targets whose submission surface is only reachable
	// through an intermediate entry context.
	MultiStage bool `json:"multi_stage,omitempty"`

	// HandoffMarker is a substring matched against new context addresses to
	// detect the secondary context appearing. Required when MultiStage.
	HandoffMarker string `json:"handoff_marker,omitempty"`

	// Variant selects the navigation trigger for multi-stage targets
	// ("article" or "media"). Defaults to "article".
	Variant string `json:"variant,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
