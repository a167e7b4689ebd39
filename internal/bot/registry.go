package bot

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"traderbird-core/internal/events"
	"traderbird-core/internal/order"
	"traderbird-core/internal/stream"
	"traderbird-core/pkg/config"
	"traderbird-core/pkg/db"
	"traderbird-core/pkg/exchanges/common"
)

// Registry owns one bot per channel and creates them on demand.
type Registry struct {
	DB        *db.Database
	Transport stream.Transport
	Executor  *order.Executor
	Bus       *events.Bus
	Gateway   common.Gateway
	Cfg       *config.Config

	mu   sync.Mutex
	bots map[string]*Bot // chat id -> bot
	ctx  context.Context
}

// NewRegistry builds an empty registry. Boot loads the persisted channels.
func NewRegistry(database *db.Database, transport stream.Transport, exec *order.Executor, bus *events.Bus, gw common.Gateway, cfg *config.Config) *Registry {
	return &Registry{
		DB:        database,
		Transport: transport,
		Executor:  exec,
		Bus:       bus,
		Gateway:   gw,
		Cfg:       cfg,
		bots:      make(map[string]*Bot),
	}
}

// Boot starts one bot per persisted channel.
func (r *Registry) Boot(ctx context.Context) error {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	channels, err := r.DB.ListChannels(ctx)
	if err != nil {
		return err
	}
	for i := range channels {
		ch := channels[i]
		if _, err := r.start(ctx, &ch); err != nil {
			logrus.WithError(err).WithField("channel", ch.ChatID).Error("channel boot failed")
		}
	}
	logrus.WithField("channels", len(channels)).Info("registry booted")
	return nil
}

// Get returns the running bot for a chat id, if any.
func (r *Registry) Get(chatID string) (*Bot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bots[chatID]
	return b, ok
}

// GetOrCreate returns the bot for a chat id, persisting the channel with the
// configured defaults on first contact.
func (r *Registry) GetOrCreate(ctx context.Context, chatID string) (*Bot, error) {
	r.mu.Lock()
	if b, ok := r.bots[chatID]; ok {
		r.mu.Unlock()
		return b, nil
	}
	runCtx := r.ctx
	r.mu.Unlock()
	if runCtx == nil {
		runCtx = ctx
	}

	ch, err := r.DB.FindOrCreateChannel(ctx, chatID, r.Cfg.DefaultBuySize, r.Cfg.DefaultQuote)
	if err != nil {
		return nil, err
	}
	return r.start(runCtx, ch)
}

// Channels lists the chat ids with running bots.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.bots))
	for id := range r.bots {
		out = append(out, id)
	}
	return out
}

// Shutdown stops every bot.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bots {
		b.Stop()
	}
}

// start builds, hydrates and runs a bot, then registers it. Registration takes
// the lock itself; callers must not hold it.
func (r *Registry) start(ctx context.Context, ch *db.Channel) (*Bot, error) {
	b := New(ch, r.DB, r.Transport, r.Executor, r.Bus, r.Gateway, r.Cfg)
	if err := b.LoadData(ctx); err != nil {
		return nil, err
	}
	b.Start(ctx)

	r.mu.Lock()
	// Another goroutine may have raced the creation; prefer the first.
	if existing, ok := r.bots[ch.ChatID]; ok {
		r.mu.Unlock()
		b.Stop()
		return existing, nil
	}
	r.bots[ch.ChatID] = b
	r.mu.Unlock()
	return b, nil
}
