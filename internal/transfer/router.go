// Package transfer serves stored files under a strict message-size ceiling:
// small files go out whole, large files chunk-by-chunk, and collaborating
// consumers can split one file's chunk range between them.
package transfer

import (
	"crosspost/internal/blob"
	logx "crosspost/pkg/logx"
)

const (
	// DefaultChunkSize is the fixed chunk size on the wire.
	DefaultChunkSize int64 = 16 << 20
	// DefaultDirectMax is the threshold at or above which files are served
	// chunked instead of in one response.
	DefaultDirectMax int64 = 32 << 20
)

type Mode string

const (
	ModeDirect  Mode = "direct"
	ModeChunked Mode = "chunked"
)

type Config struct {
	ChunkSize int64
	DirectMax int64
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.DirectMax <= 0 {
		c.DirectMax = DefaultDirectMax
	}
	return c
}

// Route is the egress decision for one file.
type Route struct {
	Mode        Mode
	Size        int64
	ChunkSize   int64
	TotalChunks int

	// Bytes is populated only for direct routes.
	Bytes []byte
}

// Meta describes how a file will be chunked.
type Meta struct {
	Name        string
	Size        int64
	ChunkSize   int64
	TotalChunks int
}

// Router decides direct vs. chunked serving and slices chunk reads.
type Router struct {
	cfg   Config
	store *blob.Store
	log   logx.Logger
}

func NewRouter(cfg Config, store *blob.Store, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{cfg: cfg.withDefaults(), store: store, log: log}
}

// ChunkSize returns the configured wire chunk size.
func (r *Router) ChunkSize() int64 { return r.cfg.ChunkSize }

func (r *Router) totalChunks(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + r.cfg.ChunkSize - 1) / r.cfg.ChunkSize)
}

// RouteTransfer decides how fileID is served.
//
// Files finished via a distributed download session are always chunked
// (their chunks are already individually addressable); otherwise the size
// threshold decides.
func (r *Router) RouteTransfer(fileID string) (Route, error) {
	f, ok := r.store.Get(fileID)
	if !ok {
		return Route{}, ErrFileNotFound
	}

	rt := Route{
		Size:        f.Size,
		ChunkSize:   r.cfg.ChunkSize,
		TotalChunks: r.totalChunks(f.Size),
	}
	if f.DistributedComplete || f.Size >= r.cfg.DirectMax {
		rt.Mode = ModeChunked
	} else {
		rt.Mode = ModeDirect
		rt.Bytes = f.Bytes
	}

	r.log.Debug("transfer routed",
		logx.String("file_id", fileID),
		logx.String("mode", string(rt.Mode)),
		logx.Int64("size", f.Size),
		logx.Int("total_chunks", rt.TotalChunks),
	)
	return rt, nil
}

// Metadata reports chunking parameters for fileID.
func (r *Router) Metadata(fileID string) (Meta, error) {
	f, ok := r.store.Get(fileID)
	if !ok {
		return Meta{}, ErrFileNotFound
	}
	return Meta{
		Name:        f.Name,
		Size:        f.Size,
		ChunkSize:   r.cfg.ChunkSize,
		TotalChunks: r.totalChunks(f.Size),
	}, nil
}

// Chunk slices [index*chunkSize, min((index+1)*chunkSize, size)).
// A chunkSize of 0 or less uses the configured wire size; consumers that
// negotiated a different size pass their own.
func (r *Router) Chunk(fileID string, index int, chunkSize int64) (data []byte, isLast bool, err error) {
	f, ok := r.store.Get(fileID)
	if !ok {
		return nil, false, ErrFileNotFound
	}
	if chunkSize <= 0 {
		chunkSize = r.cfg.ChunkSize
	}

	start := int64(index) * chunkSize
	if index < 0 || start >= f.Size {
		return nil, false, ErrChunkOutOfRange
	}
	end := start + chunkSize
	if end > f.Size {
		end = f.Size
	}
	return f.Bytes[start:end], end == f.Size, nil
}
