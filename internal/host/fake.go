package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Fake is an in-memory Host for development and tests.
//
// Behavior is scriptable per address prefix: by default every context
// answers ping immediately and acks every action. Tests override
// ReplyFunc / PingAfter to model slow handshakes and handler failures.
type Fake struct {
	mu      sync.Mutex
	seq     atomic.Uint64
	open    map[string]*FakeContext
	subs    map[uint64]func(Notification)
	subSeq  atomic.Uint64
	scripts map[string]fakeScript
}

type fakeScript struct {
	pingAfter int // ping succeeds on the Nth attempt; 0 = first
	reply     func(msg Message) Reply
	openErr   error
}

func NewFake() *Fake {
	return &Fake{
		open:    map[string]*FakeContext{},
		subs:    map[uint64]func(Notification){},
		scripts: map[string]fakeScript{},
	}
}

// ScriptPing makes contexts opened at addresses containing pattern answer
// ping only from the Nth attempt on. n <= 0 clears back to immediate.
func (f *Fake) ScriptPing(pattern string, n int) {
	f.mu.Lock()
	s := f.scripts[pattern]
	s.pingAfter = n
	f.scripts[pattern] = s
	f.mu.Unlock()
}

// ScriptReply overrides the handler reply for addresses containing pattern.
func (f *Fake) ScriptReply(pattern string, fn func(msg Message) Reply) {
	f.mu.Lock()
	s := f.scripts[pattern]
	s.reply = fn
	f.scripts[pattern] = s
	f.mu.Unlock()
}

// ScriptOpenError makes Open fail for addresses containing pattern.
func (f *Fake) ScriptOpenError(pattern string, err error) {
	f.mu.Lock()
	s := f.scripts[pattern]
	s.openErr = err
	f.scripts[pattern] = s
	f.mu.Unlock()
}

func (f *Fake) scriptFor(addr string) (fakeScript, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pat, s := range f.scripts {
		if strings.Contains(addr, pat) {
			return s, true
		}
	}
	return fakeScript{}, false
}

func (f *Fake) Open(ctx context.Context, addr string) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s, ok := f.scriptFor(addr); ok && s.openErr != nil {
		return nil, s.openErr
	}

	id := fmt.Sprintf("ctx-%d", f.seq.Add(1))
	fc := &FakeContext{host: f, id: id, addr: addr}

	f.mu.Lock()
	f.open[id] = fc
	f.mu.Unlock()

	f.notify(Notification{ContextID: id, Address: addr, At: time.Now()})
	return fc, nil
}

func (f *Fake) Attach(ctx context.Context, contextID, addr string) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_ = addr
	f.mu.Lock()
	fc, ok := f.open[contextID]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no such context %s", contextID)
	}
	return fc, nil
}

func (f *Fake) Notify(fn func(Notification)) func() {
	id := f.subSeq.Add(1)
	f.mu.Lock()
	f.subs[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Navigate simulates a context appearing at addr without Open being called
// (e.g. the target site redirecting an entry context to the real editor).
func (f *Fake) Navigate(addr string) *FakeContext {
	id := fmt.Sprintf("ctx-%d", f.seq.Add(1))
	fc := &FakeContext{host: f, id: id, addr: addr}

	f.mu.Lock()
	f.open[id] = fc
	f.mu.Unlock()

	f.notify(Notification{ContextID: id, Address: addr, At: time.Now()})
	return fc
}

// Lookup returns an open context by id.
func (f *Fake) Lookup(id string) (*FakeContext, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc, ok := f.open[id]
	return fc, ok
}

// OpenCount reports how many contexts are currently open.
func (f *Fake) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

func (f *Fake) notify(n Notification) {
	f.mu.Lock()
	fns := make([]func(Notification), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// FakeContext records everything sent into it.
type FakeContext struct {
	host *Fake
	id   string
	addr string

	mu       sync.Mutex
	closed   bool
	agents   []string
	messages []Message
	pings    int
}

func (c *FakeContext) ID() string      { return c.id }
func (c *FakeContext) Address() string { return c.addr }

func (c *FakeContext) InjectAgent(ctx context.Context, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("context %s closed", c.id)
	}
	c.agents = append(c.agents, script)
	return nil
}

func (c *FakeContext) Send(ctx context.Context, msg Message) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Reply{}, fmt.Errorf("context %s closed", c.id)
	}
	c.messages = append(c.messages, msg)
	if msg.Action == ActionPing {
		c.pings++
	}
	pings := c.pings
	addr := c.addr
	c.mu.Unlock()

	s, scripted := c.host.scriptFor(addr)
	if msg.Action == ActionPing {
		if scripted && s.pingAfter > 0 && pings < s.pingAfter {
			return Reply{Success: false, Error: "handler not loaded"}, nil
		}
		return Reply{Success: true}, nil
	}
	if scripted && s.reply != nil {
		return s.reply(msg), nil
	}
	return Reply{Success: true}, nil
}

func (c *FakeContext) Close(ctx context.Context) error {
	_ = ctx
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.host.mu.Lock()
	delete(c.host.open, c.id)
	c.host.mu.Unlock()
	return nil
}

// Messages returns a copy of all messages sent into this context.
func (c *FakeContext) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Closed reports whether Close was called.
func (c *FakeContext) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
