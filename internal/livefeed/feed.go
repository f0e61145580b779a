// Package livefeed broadcasts synthetic live updates to subscribers of a key.
//
// Each key with at least one subscriber has exactly one ticking goroutine. When
// the last subscriber leaves, the goroutine stops and the key is forgotten.
package livefeed

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/i474232898/disease-trend-forecast/internal/logging"
	"github.com/i474232898/disease-trend-forecast/internal/metrics"
	"github.com/i474232898/disease-trend-forecast/internal/synthetic"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultBuffer   = 16
)

// Ticker delivers tick times until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates the ticker driving one key.
type TickerFactory func(interval time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Option configures a Feed.
type Option func(*Feed)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithBuffer sets how many undelivered updates each subscriber may hold.
func WithBuffer(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.buffer = n
		}
	}
}

// WithTicker replaces the ticker used for each active key.
func WithTicker(factory TickerFactory) Option {
	return func(f *Feed) { f.newTicker = factory }
}

type subscription struct {
	id      string
	ch      chan trend.LiveUpdate
	dropped atomic.Uint64
	once    sync.Once
}

// group is the set of subscribers for one key and its ticking goroutine.
type group struct {
	key  trend.SeriesKey
	mu   sync.Mutex
	subs map[string]*subscription
	stop chan struct{}
	// closed is set once stop has been closed; no update is produced after that.
	closed bool
}

// Feed is a publish/subscribe broadcaster keyed by trend.SeriesKey.
// Lock order: Feed.mu before group.mu.
type Feed struct {
	gen       *synthetic.Generator
	interval  time.Duration
	buffer    int
	newTicker TickerFactory
	log       zerolog.Logger

	mu     sync.Mutex
	groups map[trend.SeriesKey]*group
	closed bool
	wg     sync.WaitGroup

	ticks   atomic.Uint64
	dropped atomic.Uint64
}

// New creates a Feed producing updates with gen.
func New(gen *synthetic.Generator, opts ...Option) *Feed {
	f := &Feed{
		gen:       gen,
		interval:  DefaultInterval,
		buffer:    DefaultBuffer,
		newTicker: newTimeTicker,
		log:       logging.Component("livefeed"),
		groups:    make(map[trend.SeriesKey]*group),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Subscribe registers a subscriber for key and returns its update channel and an
// unsubscribe function. The channel is closed when the subscription ends.
// Unsubscribe is idempotent and safe to call from any goroutine.
// The key must already be canonical; validation is the caller's job.
func (f *Feed) Subscribe(key trend.SeriesKey) (<-chan trend.LiveUpdate, func()) {
	sub := &subscription{
		id: uuid.NewString(),
		ch: make(chan trend.LiveUpdate, f.buffer),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}

	g, ok := f.groups[key]
	if !ok {
		g = &group{
			key:  key,
			subs: make(map[string]*subscription),
			stop: make(chan struct{}),
		}
		f.groups[key] = g
		metrics.LiveActiveKeys.Inc()
		f.wg.Add(1)
		go f.run(g)
		f.log.Debug().Str("key", key.String()).Msg("live feed started")
	}

	g.mu.Lock()
	g.subs[sub.id] = sub
	g.mu.Unlock()
	f.mu.Unlock()

	metrics.LiveSubscribers.Inc()
	f.log.Debug().Str("key", key.String()).Str("subscription", sub.id).Msg("subscribed")

	return sub.ch, func() {
		sub.once.Do(func() { f.unsubscribe(g, sub) })
	}
}

func (f *Feed) unsubscribe(g *group, sub *subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.subs[sub.id]; !ok {
		// Already released by Close.
		return
	}
	delete(g.subs, sub.id)
	close(sub.ch)
	metrics.LiveSubscribers.Dec()
	f.log.Debug().Str("key", g.key.String()).Str("subscription", sub.id).
		Uint64("dropped", sub.dropped.Load()).Msg("unsubscribed")

	if len(g.subs) == 0 {
		f.stopGroup(g)
	}
}

// stopGroup halts g's ticker and forgets it. Callers hold f.mu and g.mu.
func (f *Feed) stopGroup(g *group) {
	if g.closed {
		return
	}
	g.closed = true
	close(g.stop)
	if f.groups[g.key] == g {
		delete(f.groups, g.key)
		metrics.LiveActiveKeys.Dec()
	}
	f.log.Debug().Str("key", g.key.String()).Msg("live feed stopped")
}

func (f *Feed) run(g *group) {
	defer f.wg.Done()
	ticker := f.newTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case ts := <-ticker.C():
			f.publish(g, ts)
		}
	}
}

// publish generates one update and offers it to every subscriber without blocking.
func (f *Feed) publish(g *group, ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || len(g.subs) == 0 {
		return
	}

	update := f.gen.Live(g.key, ts)
	f.ticks.Inc()
	metrics.LiveTicks.Inc()

	for _, sub := range g.subs {
		select {
		case sub.ch <- update:
		default:
			sub.dropped.Inc()
			f.dropped.Inc()
			metrics.LiveDropped.Inc()
		}
	}
}

// Close stops every key and closes all subscriber channels. Later Subscribe
// calls return an already closed channel.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for _, g := range f.groups {
		g.mu.Lock()
		for id, sub := range g.subs {
			delete(g.subs, id)
			close(sub.ch)
			metrics.LiveSubscribers.Dec()
		}
		f.stopGroup(g)
		g.mu.Unlock()
	}
	f.mu.Unlock()

	f.wg.Wait()
}

// ActiveKeys returns the number of keys with a running ticker.
func (f *Feed) ActiveKeys() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.groups)
}

// Subscribers returns the number of subscribers registered for key.
func (f *Feed) Subscribers(key trend.SeriesKey) int {
	f.mu.Lock()
	g, ok := f.groups[key]
	f.mu.Unlock()
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Ticks returns the number of updates generated since the feed was created.
func (f *Feed) Ticks() uint64 { return f.ticks.Load() }

// Dropped returns the number of updates discarded because a subscriber was full.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }
