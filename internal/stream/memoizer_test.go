package stream

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/fleetglass/livemap/internal/model"
)

// fakeSource records upstream opens and closes per key.
type fakeSource struct {
	mu     sync.Mutex
	opens  map[string]int
	closes map[string]int
	chans  map[string]chan model.PositionSample
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		opens:  make(map[string]int),
		closes: make(map[string]int),
		chans:  make(map[string]chan model.PositionSample),
	}
}

func (s *fakeSource) Subscribe(key string) (Upstream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens[key]++
	ch := make(chan model.PositionSample, 16)
	s.chans[key] = ch
	return &fakeUpstream{src: s, key: key, ch: ch}, nil
}

func (s *fakeSource) openCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[key]
}

func (s *fakeSource) closeCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes[key]
}

func (s *fakeSource) push(key string, sample model.PositionSample) {
	s.mu.Lock()
	ch := s.chans[key]
	s.mu.Unlock()
	ch <- sample
}

type fakeUpstream struct {
	src *fakeSource
	key string
	ch  chan model.PositionSample

	once sync.Once
}

func (u *fakeUpstream) Samples() <-chan model.PositionSample { return u.ch }

func (u *fakeUpstream) Close() error {
	u.once.Do(func() {
		u.src.mu.Lock()
		u.src.closes[u.key]++
		u.src.mu.Unlock()
	})
	return nil
}

func TestMemoizerSharesOneUpstream(t *testing.T) {
	src := newFakeSource()
	m := NewMemoizer(src, 10*time.Millisecond, testLogger())
	defer m.Close()

	handles := make([]*Handle, 10)
	for i := range handles {
		h, err := m.Subscribe("veh-1")
		if err != nil {
			t.Fatalf("Subscribe %d: %v", i, err)
		}
		handles[i] = h
	}

	if got := src.openCount("veh-1"); got != 1 {
		t.Fatalf("upstream opened %d times for 10 subscribers, want 1", got)
	}

	// One pushed sample fans out to every handle.
	src.push("veh-1", sampleFor("veh-1", 42))

	for i, h := range handles {
		select {
		case <-h.Ready():
		case <-time.After(time.Second):
			t.Fatalf("handle %d never signalled", i)
		}
		got, ok := h.Latest()
		if !ok {
			t.Fatalf("handle %d has no sample", i)
		}
		if got.Timestamp.UnixMilli() != 42 {
			t.Errorf("handle %d ts = %d, want 42", i, got.Timestamp.UnixMilli())
		}
	}

	// Releasing all handles closes the upstream exactly once, after the
	// grace delay.
	for _, h := range handles {
		if err := h.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	if got := src.closeCount("veh-1"); got != 0 {
		t.Errorf("upstream closed before grace elapsed")
	}

	deadline := time.Now().Add(time.Second)
	for src.closeCount("veh-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("upstream never closed after grace")
		}
		time.Sleep(time.Millisecond)
	}
	if got := src.closeCount("veh-1"); got != 1 {
		t.Errorf("upstream closed %d times, want 1", got)
	}

	if diag := m.Diagnostics(); diag.CacheSize != 0 {
		t.Errorf("CacheSize = %d, want 0 after teardown", diag.CacheSize)
	}
}

func TestMemoizerResubscribeWithinGraceKeepsUpstream(t *testing.T) {
	src := newFakeSource()
	m := NewMemoizer(src, 100*time.Millisecond, testLogger())
	defer m.Close()

	h, err := m.Subscribe("veh-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Resubscribe before the grace delay fires.
	h2, err := m.Subscribe("veh-1")
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	defer h2.Release()

	time.Sleep(200 * time.Millisecond)

	if got := src.openCount("veh-1"); got != 1 {
		t.Errorf("upstream opened %d times, want 1", got)
	}
	if got := src.closeCount("veh-1"); got != 0 {
		t.Errorf("upstream closed %d times despite live handle", got)
	}
}

func TestHandleDoubleRelease(t *testing.T) {
	src := newFakeSource()
	m := NewMemoizer(src, time.Millisecond, testLogger())
	defer m.Close()

	h, err := m.Subscribe("veh-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := h.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := h.Release(); err != ErrAlreadyReleased {
		t.Errorf("second Release err = %v, want ErrAlreadyReleased", err)
	}
}

func TestMemoizerClosedRejectsSubscribe(t *testing.T) {
	m := NewMemoizer(newFakeSource(), time.Millisecond, testLogger())
	m.Close()

	if _, err := m.Subscribe("veh-1"); err != ErrClosed {
		t.Errorf("Subscribe after Close err = %v, want ErrClosed", err)
	}
}

// TestMemoizerChurnInvariant hammers subscribe/release from many
// goroutines and checks the single-upstream invariant: opens for a key
// never exceed closes by more than one.
func TestMemoizerChurnInvariant(t *testing.T) {
	src := newFakeSource()
	m := NewMemoizer(src, time.Millisecond, testLogger())
	defer m.Close()

	keys := []string{"a", "b", "c"}
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 100; i++ {
				key := keys[rng.Intn(len(keys))]
				h, err := m.Subscribe(key)
				if err != nil {
					t.Errorf("Subscribe: %v", err)
					return
				}
				if rng.Intn(2) == 0 {
					time.Sleep(time.Duration(rng.Intn(200)) * time.Microsecond)
				}
				if err := h.Release(); err != nil {
					t.Errorf("Release: %v", err)
					return
				}
			}
		}(int64(w))
	}

	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	for _, key := range keys {
		opens := src.openCount(key)
		closes := src.closeCount(key)
		if opens-closes > 1 || closes > opens {
			t.Errorf("key %s: opens=%d closes=%d, want balanced within one", key, opens, closes)
		}
	}

	if diag := m.Diagnostics(); diag.CacheSize != 0 {
		t.Errorf("CacheSize = %d after churn settled, want 0", diag.CacheSize)
	}
}
