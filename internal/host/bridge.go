package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "crosspost/pkg/logx"
)

// Bridge talks to an external host agent over HTTP.
//
// The agent owns the real execution contexts (browser tabs, webviews, ...)
// and exposes a small JSON API:
//
//	POST {base}/contexts            {"address": ...}            -> {"context_id": ...}
//	POST {base}/contexts/{id}/agent {"script": ...}             -> {}
//	POST {base}/contexts/{id}/send  Message                     -> Reply
//	DELETE {base}/contexts/{id}                                 -> {}
//	GET  {base}/notifications?cursor=N (long poll)              -> {"cursor": N, "events": [...]}
//
// Notifications are long-polled on a background goroutine started by Run.
type Bridge struct {
	base  string
	token string
	hc    *http.Client
	log   logx.Logger

	mu     sync.Mutex
	subs   map[uint64]func(Notification)
	subSeq uint64
}

type BridgeConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func NewBridge(cfg BridgeConfig, log logx.Logger) (*Bridge, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("bridge base url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	to := cfg.Timeout
	if to <= 0 {
		to = 40 * time.Second // must exceed the long-poll window
	}
	return &Bridge{
		base:  base,
		token: cfg.Token,
		hc:    &http.Client{Timeout: to},
		log:   log,
		subs:  map[uint64]func(Notification){},
	}, nil
}

func (b *Bridge) Open(ctx context.Context, addr string) (Context, error) {
	var out struct {
		ContextID string `json:"context_id"`
	}
	if err := b.call(ctx, http.MethodPost, "/contexts", map[string]string{"address": addr}, &out); err != nil {
		return nil, fmt.Errorf("open context: %w", err)
	}
	if out.ContextID == "" {
		return nil, fmt.Errorf("open context: agent returned empty context_id")
	}
	return &bridgeContext{bridge: b, id: out.ContextID, addr: addr}, nil
}

func (b *Bridge) Attach(ctx context.Context, contextID, addr string) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(contextID) == "" {
		return nil, fmt.Errorf("attach: context id is required")
	}
	return &bridgeContext{bridge: b, id: contextID, addr: addr}, nil
}

func (b *Bridge) Notify(fn func(Notification)) func() {
	b.mu.Lock()
	b.subSeq++
	id := b.subSeq
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Run long-polls the agent's notification feed until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	cursor := int64(0)
	for {
		if ctx.Err() != nil {
			return nil
		}
		var out struct {
			Cursor int64 `json:"cursor"`
			Events []struct {
				ContextID string    `json:"context_id"`
				Address   string    `json:"address"`
				At        time.Time `json:"at"`
			} `json:"events"`
		}
		err := b.call(ctx, http.MethodGet, fmt.Sprintf("/notifications?cursor=%d", cursor), nil, &out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn("notification poll failed", logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}
		cursor = out.Cursor
		for _, ev := range out.Events {
			n := Notification{ContextID: ev.ContextID, Address: ev.Address, At: ev.At}
			b.dispatch(n)
		}
	}
}

func (b *Bridge) dispatch(n Notification) {
	b.mu.Lock()
	fns := make([]func(Notification), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

func (b *Bridge) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type bridgeContext struct {
	bridge *Bridge
	id     string
	addr   string
}

func (c *bridgeContext) ID() string      { return c.id }
func (c *bridgeContext) Address() string { return c.addr }

func (c *bridgeContext) InjectAgent(ctx context.Context, script string) error {
	return c.bridge.call(ctx, http.MethodPost, "/contexts/"+c.id+"/agent", map[string]string{"script": script}, nil)
}

func (c *bridgeContext) Send(ctx context.Context, msg Message) (Reply, error) {
	var r Reply
	if err := c.bridge.call(ctx, http.MethodPost, "/contexts/"+c.id+"/send", msg, &r); err != nil {
		return Reply{}, err
	}
	return r, nil
}

func (c *bridgeContext) Close(ctx context.Context) error {
	return c.bridge.call(ctx, http.MethodDelete, "/contexts/"+c.id, nil, nil)
}
