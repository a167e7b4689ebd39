package stream

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"traderbird-core/pkg/twitter"
)

type fakeSession struct {
	events chan *twitter.Event
	errs   chan error
	once   sync.Once
	closed chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events: make(chan *twitter.Event, 8),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *fakeSession) ReadEvent() (*twitter.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.errs:
		return nil, err
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	opens    [][]string
	sessions []*fakeSession
	openErr  func(attempt int) error
}

func (t *fakeTransport) Open(_ context.Context, followIDs []string) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attempt := len(t.opens)
	t.opens = append(t.opens, append([]string(nil), followIDs...))
	if t.openErr != nil {
		if err := t.openErr(attempt); err != nil {
			return nil, err
		}
	}
	s := newFakeSession()
	t.sessions = append(t.sessions, s)
	return s, nil
}

func (t *fakeTransport) LookupUser(_ context.Context, screenName string) (twitter.User, error) {
	return twitter.User{ID: "id-" + screenName, ScreenName: screenName}, nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.opens)
}

func (t *fakeTransport) lastSession() *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) == 0 {
		return nil
	}
	return t.sessions[len(t.sessions)-1]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDeliversEvents(t *testing.T) {
	transport := &fakeTransport{}
	var mu sync.Mutex
	var got []string

	m := New(Config{
		Transport: transport,
		FollowIDs: []string{"1"},
		OnTweet: func(ev *twitter.Event) {
			mu.Lock()
			got = append(got, ev.Text)
			mu.Unlock()
		},
		Backoff: 10 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { return transport.lastSession() != nil })
	transport.lastSession().events <- &twitter.Event{Text: "hello"}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "hello"
	})
}

func TestRateLimitDoublesBackoff(t *testing.T) {
	transport := &fakeTransport{
		openErr: func(int) error {
			return fmt.Errorf("%w: status 420", twitter.ErrRateLimited)
		},
	}
	m := New(Config{
		Transport:  transport,
		FollowIDs:  []string{"1"},
		OnTweet:    func(*twitter.Event) {},
		OnError:    func(error) {},
		Backoff:    time.Minute,
		MaxBackoff: time.Hour,
	})
	m.Start(context.Background())
	defer m.Stop()

	// The failed handshake schedules a restart at the initial delay and
	// doubles the next one.
	if got := m.Backoff(); got != 2*time.Minute {
		t.Errorf("backoff after one rate limit = %v, want 2m", got)
	}
	if transport.openCount() != 1 {
		t.Errorf("open count = %d, want 1 (restart still pending)", transport.openCount())
	}
}

func TestBackoffCappedAndResetOnConnect(t *testing.T) {
	failures := 3
	transport := &fakeTransport{
		openErr: func(attempt int) error {
			if attempt < failures {
				return fmt.Errorf("%w", twitter.ErrRateLimited)
			}
			return nil
		},
	}
	m := New(Config{
		Transport:  transport,
		FollowIDs:  []string{"1"},
		OnTweet:    func(*twitter.Event) {},
		OnError:    func(error) {},
		Backoff:    5 * time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { return transport.lastSession() != nil })

	// A successful handshake resets the policy to the initial delay.
	if got := m.Backoff(); got != 5*time.Millisecond {
		t.Errorf("backoff after reconnect = %v, want initial", got)
	}
	if transport.openCount() != failures+1 {
		t.Errorf("open count = %d, want %d", transport.openCount(), failures+1)
	}
}

func TestMembershipChangeRestartsImmediately(t *testing.T) {
	transport := &fakeTransport{}
	m := New(Config{
		Transport: transport,
		FollowIDs: []string{"1"},
		OnTweet:   func(*twitter.Event) {},
		Backoff:   time.Minute, // must not matter for membership restarts
	})
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { return transport.openCount() == 1 })

	m.AddIdentity("2")
	waitFor(t, func() bool { return transport.openCount() == 2 })

	transport.mu.Lock()
	last := transport.opens[1]
	transport.mu.Unlock()
	if want := []string{"1", "2"}; !reflect.DeepEqual(last, want) {
		t.Errorf("reopened with %v, want %v", last, want)
	}

	if got := m.FollowedIDs(); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("FollowedIDs = %v", got)
	}
}

func TestRemovingLastIdentityStopsStream(t *testing.T) {
	transport := &fakeTransport{}
	m := New(Config{
		Transport: transport,
		FollowIDs: []string{"1"},
		OnTweet:   func(*twitter.Event) {},
		Backoff:   10 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { return transport.openCount() == 1 })
	session := transport.lastSession()

	m.RemoveIdentity("1")

	select {
	case <-session.closed:
	case <-time.After(time.Second):
		t.Fatal("session not closed after removing last identity")
	}
	time.Sleep(50 * time.Millisecond)
	if transport.openCount() != 1 {
		t.Errorf("stream reopened with empty membership: %d opens", transport.openCount())
	}
}

func TestNormalEndOfStreamDoesNotRestart(t *testing.T) {
	transport := &fakeTransport{}
	m := New(Config{
		Transport: transport,
		FollowIDs: []string{"1"},
		OnTweet:   func(*twitter.Event) {},
		Backoff:   5 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { return transport.lastSession() != nil })
	transport.lastSession().errs <- io.EOF

	// End-of-stream is logged, never self-healed.
	time.Sleep(50 * time.Millisecond)
	if transport.openCount() != 1 {
		t.Errorf("open count = %d after EOF, want 1", transport.openCount())
	}
	if got := m.Backoff(); got != 5*time.Millisecond {
		t.Errorf("EOF changed backoff: %v", got)
	}
}

func TestRateLimitedReadSchedulesRestart(t *testing.T) {
	transport := &fakeTransport{}
	var errs []error
	var mu sync.Mutex
	m := New(Config{
		Transport: transport,
		FollowIDs: []string{"1"},
		OnTweet:   func(*twitter.Event) {},
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
		Backoff: 5 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, func() bool { return transport.lastSession() != nil })
	transport.lastSession().errs <- fmt.Errorf("%w: policy violation", twitter.ErrRateLimited)

	waitFor(t, func() bool { return transport.openCount() >= 2 })
	mu.Lock()
	defer mu.Unlock()
	if len(errs) == 0 {
		t.Error("rate-limit disconnect not reported")
	}
}
