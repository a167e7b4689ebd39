// Package stream owns one live filtered-stream session per channel over a
// dynamic set of followed identities.
package stream

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"traderbird-core/pkg/twitter"
)

// Session is one live stream connection.
type Session interface {
	ReadEvent() (*twitter.Event, error)
	Close() error
}

// Transport opens sessions and resolves identities. *twitter.Client satisfies
// it through NewTwitterTransport; tests substitute fakes.
type Transport interface {
	Open(ctx context.Context, followIDs []string) (Session, error)
	LookupUser(ctx context.Context, screenName string) (twitter.User, error)
}

type twitterTransport struct {
	client *twitter.Client
}

// NewTwitterTransport adapts the backend client to the Transport interface.
func NewTwitterTransport(c *twitter.Client) Transport {
	return twitterTransport{client: c}
}

func (t twitterTransport) Open(ctx context.Context, followIDs []string) (Session, error) {
	s, err := t.client.OpenStream(ctx, followIDs)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t twitterTransport) LookupUser(ctx context.Context, screenName string) (twitter.User, error) {
	return t.client.LookupUser(ctx, screenName)
}

// Config configures a Manager.
type Config struct {
	Transport Transport
	ChannelID string // chat id, for log correlation
	FollowIDs []string
	OnTweet   func(*twitter.Event)
	OnError   func(error) // optional; defaults to logging only
	Backoff   time.Duration
	MaxBackoff time.Duration
}

// Manager maintains the followed-identity set and restarts the session on
// membership changes and rate-limit disconnects.
type Manager struct {
	transport  Transport
	channelID  string
	onTweet    func(*twitter.Event)
	onError    func(error)
	initial    time.Duration
	maxBackoff time.Duration
	log        *logrus.Entry

	mu       sync.Mutex
	ctx      context.Context
	ids      map[string]struct{}
	session  Session
	gen      int // session generation; readers from older sessions are stale
	backoff  time.Duration
	attempts int
	timer    *time.Timer // pending backoff restart, superseded by teardowns
}

// New builds a Manager. Start must be called before it opens anything.
func New(cfg Config) *Manager {
	m := &Manager{
		transport:  cfg.Transport,
		channelID:  cfg.ChannelID,
		onTweet:    cfg.OnTweet,
		onError:    cfg.OnError,
		initial:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		backoff:    cfg.Backoff,
		ids:        make(map[string]struct{}),
		log:        logrus.WithField("channel", cfg.ChannelID),
	}
	if m.initial <= 0 {
		m.initial = time.Minute
		m.backoff = time.Minute
	}
	if m.maxBackoff <= 0 {
		m.maxBackoff = time.Hour
	}
	if m.onError == nil {
		m.onError = func(err error) {
			m.log.WithError(err).Error("stream error")
		}
	}
	for _, id := range cfg.FollowIDs {
		m.ids[id] = struct{}{}
	}
	return m
}

// Start opens the session when the followed set is non-empty.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
	if len(m.ids) > 0 {
		m.openLocked()
	}
}

// Stop tears down the session and any pending restart.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// AddIdentity follows a new id. A membership change restarts the session
// immediately, with no backoff delay.
func (m *Manager) AddIdentity(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[id]; ok {
		return
	}
	m.ids[id] = struct{}{}
	m.teardownLocked()
	m.openLocked()
}

// RemoveIdentity unfollows an id, tearing down immediately and reopening only
// while the set stays non-empty.
func (m *Manager) RemoveIdentity(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[id]; !ok {
		return
	}
	delete(m.ids, id)
	m.teardownLocked()
	if len(m.ids) > 0 {
		m.openLocked()
	}
}

// LookupIdentity resolves a screen name via the transport.
func (m *Manager) LookupIdentity(ctx context.Context, screenName string) (twitter.User, error) {
	return m.transport.LookupUser(ctx, screenName)
}

// FollowedIDs returns the current membership, sorted for determinism.
func (m *Manager) FollowedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.ids))
	for id := range m.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Backoff returns the current restart delay.
func (m *Manager) Backoff() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff
}

// openLocked dials a new session for the current membership. Callers hold mu.
func (m *Manager) openLocked() {
	if m.ctx == nil || m.ctx.Err() != nil || len(m.ids) == 0 {
		return
	}

	ids := make([]string, 0, len(m.ids))
	for id := range m.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	session, err := m.transport.Open(m.ctx, ids)
	if err != nil {
		m.handleErrorLocked(err)
		return
	}

	// A fresh 200 handshake resets the restart policy.
	m.session = session
	m.gen++
	m.backoff = m.initial
	m.attempts = 0
	m.log.WithField("follow", len(ids)).Info("stream connected")

	go m.readLoop(session, m.gen)
}

// teardownLocked closes the session and cancels a pending restart.
func (m *Manager) teardownLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.session != nil {
		_ = m.session.Close()
		m.session = nil
		m.gen++ // invalidate the reader
	}
}

func (m *Manager) readLoop(s Session, gen int) {
	for {
		ev, err := s.ReadEvent()
		if err != nil {
			m.handleReadError(err, gen)
			return
		}
		m.onTweet(ev)
	}
}

func (m *Manager) handleReadError(err error, gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		// Superseded by a teardown; nothing to report.
		return
	}
	m.session = nil
	m.handleErrorLocked(err)
}

// handleErrorLocked classifies a session failure. Only rate-limit disconnects
// trigger the backoff-restart path; a plain end-of-stream is logged and left
// alone.
func (m *Manager) handleErrorLocked(err error) {
	switch {
	case errors.Is(err, io.EOF):
		m.log.Info("stream ended")
	case errors.Is(err, twitter.ErrRateLimited):
		delay := m.backoff
		m.backoff *= 2
		if m.backoff > m.maxBackoff {
			m.backoff = m.maxBackoff
		}
		m.attempts++
		m.log.WithFields(logrus.Fields{
			"delay":    delay,
			"attempts": m.attempts,
		}).Warn("stream rate limited, restart scheduled")
		m.scheduleRestartLocked(delay)
		m.onError(err)
	default:
		m.log.WithError(err).Error("stream error")
		m.onError(err)
	}
}

func (m *Manager) scheduleRestartLocked(delay time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.timer = nil
		m.log.WithField("delay", delay).Info("restarting stream")
		m.openLocked()
	})
}
