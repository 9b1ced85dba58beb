package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/loykin/hedgectl/internal/history"
	"github.com/loykin/hedgectl/internal/process"
)

type termCall struct {
	pid   int
	force bool
}

// fakePlatform simulates workers in memory.
type fakePlatform struct {
	mu       sync.Mutex
	nextPID  int
	running  map[int]bool
	spawned  []process.Command
	terms    []termCall
	aliveErr error
	spawnErr error

	ignoreTERM  bool // graceful requests are ignored
	exitOnSpawn bool // workers die before the grace check
	info        process.Info
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{nextPID: 1000, running: map[int]bool{}}
}

func (f *fakePlatform) Spawn(ctx context.Context, c process.Command) (process.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return process.Handle{}, f.spawnErr
	}
	f.nextPID++
	pid := f.nextPID
	f.spawned = append(f.spawned, c)
	f.running[pid] = !f.exitOnSpawn
	return process.Handle{PID: pid, StartUnix: 1_700_000_000 + int64(pid)}, nil
}

func (f *fakePlatform) Alive(h process.Handle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.aliveErr != nil {
		return false, f.aliveErr
	}
	return f.running[h.PID], nil
}

func (f *fakePlatform) Terminate(h process.Handle, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terms = append(f.terms, termCall{pid: h.PID, force: force})
	if force || !f.ignoreTERM {
		f.running[h.PID] = false
	}
	return nil
}

func (f *fakePlatform) Describe(h process.Handle) (process.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.info.PID == 0 {
		return process.Info{PID: h.PID}, errors.New("no details")
	}
	return f.info, nil
}

func (f *fakePlatform) aliveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, up := range f.running {
		if up {
			n++
		}
	}
	return n
}

func (f *fakePlatform) terminations() []termCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]termCall(nil), f.terms...)
}

func (f *fakePlatform) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

type staticResolver struct {
	path string
	err  error
}

func (r staticResolver) Resolve() (string, error) { return r.path, r.err }

// memorySink collects history events.
type memorySink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *memorySink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

func (m *memorySink) last() history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[len(m.events)-1]
}

// fixedClock returns a clock that advances by step on each call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(step)
		return t
	}
}
