// Package tracker broadcasts periodic price updates for the pairs a channel
// is watching.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"traderbird-core/internal/events"
	"traderbird-core/pkg/exchanges/common"
)

var (
	ErrAlreadyTracking = errors.New("pair already tracked")
	ErrNotTracking     = errors.New("pair not tracked")
)

type pair struct {
	Base  string
	Quote string
}

// Tracker polls the exchange for every tracked pair on a fixed interval and
// publishes one price tick per pair. Entries are keyed by the exchange order
// id that started tracking them; removal matches on the pair itself.
type Tracker struct {
	gateway  common.Gateway
	bus      *events.Bus
	chatID   string
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	pairs   map[string]pair // exchange order id -> pair
	cancel  context.CancelFunc
	running bool
}

// New builds a tracker for one channel. Interval defaults to a minute.
func New(gw common.Gateway, bus *events.Bus, chatID string, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Tracker{
		gateway:  gw,
		bus:      bus,
		chatID:   chatID,
		interval: interval,
		pairs:    make(map[string]pair),
		log:      logrus.WithField("channel", chatID),
	}
}

// Track registers a pair under an exchange order id. The same pair cannot be
// tracked twice regardless of case or which order id carries it.
func (t *Tracker) Track(exchangeID, base, quote string) error {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pairs {
		if p.Base == base && p.Quote == quote {
			return fmt.Errorf("%w: %s%s", ErrAlreadyTracking, base, quote)
		}
	}
	t.pairs[exchangeID] = pair{Base: base, Quote: quote}
	t.log.WithField("pair", base+quote).Info("tracking pair")
	return nil
}

// Untrack removes the tracked pair matching base+quote, regardless of which
// order id registered it.
func (t *Tracker) Untrack(base, quote string) error {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.pairs {
		if p.Base == base && p.Quote == quote {
			delete(t.pairs, id)
			t.log.WithField("pair", base+quote).Info("untracked pair")
			return nil
		}
	}
	return fmt.Errorf("%w: %s%s", ErrNotTracking, base, quote)
}

// UntrackAll clears every tracked pair and reports how many were removed.
func (t *Tracker) UntrackAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.pairs)
	t.pairs = make(map[string]pair)
	return n
}

// Tracked returns the tracked pairs as displayable symbols.
func (t *Tracker) Tracked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.pairs))
	for _, p := range t.pairs {
		out = append(out, p.Base+p.Quote)
	}
	return out
}

// Start runs the polling loop until the context is cancelled or Stop is
// called. Starting twice is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.running = true
	t.mu.Unlock()

	go t.loop(ctx)
}

// Stop halts the polling loop.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.running = false
}

func (t *Tracker) loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// tick fetches every tracked pair concurrently. A failed fetch is logged and
// skipped; it never suppresses the other pairs' updates.
func (t *Tracker) tick(ctx context.Context) {
	t.mu.Lock()
	snapshot := make([]pair, 0, len(t.pairs))
	for _, p := range t.pairs {
		snapshot = append(snapshot, p)
	}
	t.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range snapshot {
		wg.Add(1)
		go func(p pair) {
			defer wg.Done()
			price, err := t.gateway.GetPrice(ctx, p.Base, p.Quote)
			if err != nil {
				t.log.WithError(err).WithField("pair", p.Base+p.Quote).Warn("price fetch failed")
				t.bus.Publish(events.EventError, events.Broadcast{
					ChatID: t.chatID,
					Text:   fmt.Sprintf("Price fetch failed for %s%s: %v", p.Base, p.Quote, err),
				})
				return
			}
			t.bus.Publish(events.EventPriceTick, events.Broadcast{
				ChatID: t.chatID,
				Text:   fmt.Sprintf("%s%s @ %v", p.Base, p.Quote, price),
			})
		}(p)
	}
	wg.Wait()
}
