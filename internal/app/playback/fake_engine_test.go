package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/nowplaying/internal/domain/track"
)

// fakeEngine is a scriptable Engine. Create can be held back per resource
// with gate, and any operation can be made to fail.
type fakeEngine struct {
	mu sync.Mutex

	seq        int
	live       map[Handle]track.Resource
	maxLive    int
	created    map[track.Resource][]Handle
	released   []Handle
	callbacks  map[Handle]StatusFunc // kept after release to simulate late reports
	positions  map[Handle]time.Duration
	volumes    map[Handle]float64
	calls      []string
	gates      map[track.Resource]chan struct{}
	failCreate map[track.Resource]error
	failOps    map[string]error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		live:       make(map[Handle]track.Resource),
		created:    make(map[track.Resource][]Handle),
		callbacks:  make(map[Handle]StatusFunc),
		positions:  make(map[Handle]time.Duration),
		volumes:    make(map[Handle]float64),
		gates:      make(map[track.Resource]chan struct{}),
		failCreate: make(map[track.Resource]error),
		failOps:    make(map[string]error),
	}
}

// gate makes Create for ref block until the returned func is called.
func (e *fakeEngine) gate(ref track.Resource) func() {
	ch := make(chan struct{})
	e.mu.Lock()
	e.gates[ref] = ch
	e.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (e *fakeEngine) failOn(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOps[op] = err
}

func (e *fakeEngine) Create(ctx context.Context, ref track.Resource) (Handle, error) {
	e.mu.Lock()
	gate := e.gates[ref]
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, "create:"+string(ref))
	if err, ok := e.failCreate[ref]; ok {
		return "", err
	}

	e.seq++
	h := Handle(fmt.Sprintf("h%d", e.seq))
	e.live[h] = ref
	e.created[ref] = append(e.created[ref], h)
	if len(e.live) > e.maxLive {
		e.maxLive = len(e.live)
	}
	return h, nil
}

func (e *fakeEngine) op(name string, h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, name+":"+string(h))
	if err, ok := e.failOps[name]; ok {
		return err
	}
	if _, ok := e.live[h]; !ok {
		return errors.Newf("unknown handle %s", h)
	}
	return nil
}

func (e *fakeEngine) Play(_ context.Context, h Handle) error  { return e.op("play", h) }
func (e *fakeEngine) Pause(_ context.Context, h Handle) error { return e.op("pause", h) }
func (e *fakeEngine) Stop(_ context.Context, h Handle) error  { return e.op("stop", h) }

func (e *fakeEngine) SetPosition(_ context.Context, h Handle, pos time.Duration) error {
	if err := e.op("set_position", h); err != nil {
		return err
	}
	e.mu.Lock()
	e.positions[h] = pos
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) SetVolume(_ context.Context, h Handle, volume float64) error {
	if err := e.op("set_volume", h); err != nil {
		return err
	}
	e.mu.Lock()
	e.volumes[h] = volume
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Release(_ context.Context, h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, "release:"+string(h))
	if _, ok := e.live[h]; ok {
		delete(e.live, h)
		e.released = append(e.released, h)
	}
	return nil
}

func (e *fakeEngine) RegisterStatusCallback(h Handle, fn StatusFunc) error {
	if err := e.op("register", h); err != nil {
		return err
	}
	e.mu.Lock()
	e.callbacks[h] = fn
	e.mu.Unlock()
	return nil
}

// emit delivers st to h's callback, even if h was already released.
func (e *fakeEngine) emit(h Handle, st Status) {
	e.mu.Lock()
	fn := e.callbacks[h]
	e.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (e *fakeEngine) handlesFor(ref track.Resource) []Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Handle(nil), e.created[ref]...)
}

func (e *fakeEngine) isReleased(h Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.released {
		if r == h {
			return true
		}
	}
	return false
}

func (e *fakeEngine) liveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

func (e *fakeEngine) peakLive() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxLive
}

func (e *fakeEngine) callLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) position(h Handle) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[h]
}

func (e *fakeEngine) volume(h Handle) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volumes[h]
}

func (e *fakeEngine) count(call string) int {
	n := 0
	for _, c := range e.callLog() {
		if c == call {
			n++
		}
	}
	return n
}
