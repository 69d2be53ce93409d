package dashboard

import (
	"context"
	"sync"
	"time"
)

// DecisionLookup resolves the most recent decision for inclusion in a live
// push. It is satisfied by storage.Store.RecentDecisions(ctx, 1).
type DecisionLookup func(ctx context.Context) (id int64, summary any, err error)

// PriceLookup resolves the current mark price for the configured symbol.
type PriceLookup func(ctx context.Context) (float64, error)

// LiveFeed drives the 2s push loop behind /ws/live: a notification from
// EventListener only invalidates the cached decision, it never broadcasts
// directly — the ticker is the single source of push cadence, matching the
// teacher's own separation between event listener and periodic broadcast
// goroutines in cmd/dashboard/main.go.
type LiveFeed struct {
	symbol      string
	broadcaster *Broadcaster
	lookupPrice PriceLookup
	lookupDec   DecisionLookup
	period      time.Duration

	mu            sync.Mutex
	cachedDecID   int64
	cachedDec     any
	decisionKnown bool
}

// NewLiveFeed builds a LiveFeed pushing every period (2s in production) for
// symbol.
func NewLiveFeed(symbol string, broadcaster *Broadcaster, lookupPrice PriceLookup, lookupDec DecisionLookup, period time.Duration) *LiveFeed {
	return &LiveFeed{symbol: symbol, broadcaster: broadcaster, lookupPrice: lookupPrice, lookupDec: lookupDec, period: period}
}

// OnNotify is passed to EventListener; it forces the next push to refetch
// the latest decision rather than reuse the cache.
func (f *LiveFeed) OnNotify(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisionKnown = false
}

// Run starts the push loop; it returns when ctx is cancelled.
func (f *LiveFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pushOnce(ctx)
		}
	}
}

func (f *LiveFeed) pushOnce(ctx context.Context) {
	price, err := f.lookupPrice(ctx)
	if err != nil {
		return
	}

	f.mu.Lock()
	known := f.decisionKnown
	f.mu.Unlock()

	if !known {
		id, summary, err := f.lookupDec(ctx)
		if err == nil {
			f.mu.Lock()
			f.cachedDecID = id
			f.cachedDec = summary
			f.decisionKnown = true
			f.mu.Unlock()
		}
	}

	f.mu.Lock()
	msg := LiveMessage{
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Symbol:           f.symbol,
		Price:            price,
		LatestDecision:   f.cachedDec,
		LatestDecisionID: f.cachedDecID,
	}
	f.mu.Unlock()

	f.broadcaster.Broadcast(msg)
}
