package dashboard

import (
	"context"
	"log"
	"time"

	"github.com/lib/pq"
)

// EventListener subscribes to the Postgres NOTIFY channels PostgresStore
// issues inside the same transaction as a decision or trade write
// (decision_journaled, trade_executed) and invalidates a cache on receipt,
// so the live-price push loop never has to poll for a fresh decision.
//
// Adapted from the teacher's internal/dashboard/events.go lib/pq listener
// loop (exponential retry, channel re-subscribe on reconnect) — this is the
// one place lib/pq earns a role distinct from pgx, which the rest of the
// storage layer uses for ordinary queries.
type EventListener struct {
	dbURL    string
	logger   *log.Logger
	onNotify func(channel string)
	shutdown chan struct{}
}

// NewEventListener builds a listener that calls onNotify for every
// notification received on decision_journaled or trade_executed.
func NewEventListener(dbURL string, onNotify func(channel string), logger *log.Logger) *EventListener {
	return &EventListener{dbURL: dbURL, onNotify: onNotify, logger: logger, shutdown: make(chan struct{})}
}

// Start begins listening in its own goroutine.
func (el *EventListener) Start(ctx context.Context) {
	go el.listenLoop(ctx)
}

// Stop terminates the listen loop.
func (el *EventListener) Stop() {
	close(el.shutdown)
}

func (el *EventListener) listenLoop(ctx context.Context) {
	defer el.logger.Println("dashboard: event listener shutting down")

	const minRetryDelay = 100 * time.Millisecond
	const maxRetryDelay = 10 * time.Second
	retryDelay := minRetryDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
		}

		listener := pq.NewListener(el.dbURL, minRetryDelay, maxRetryDelay, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				el.logger.Printf("dashboard: listener event: %v", err)
			}
		})

		if err := el.subscribe(listener); err != nil {
			el.logger.Printf("dashboard: failed to subscribe: %v", err)
			listener.Close()
			retryDelay = maxRetryDelay
			time.Sleep(retryDelay)
			continue
		}
		retryDelay = minRetryDelay

		if err := el.consume(ctx, listener); err != nil {
			el.logger.Printf("dashboard: listener error: %v", err)
		}
		listener.Close()

		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
			time.Sleep(retryDelay)
		}
	}
}

func (el *EventListener) subscribe(listener *pq.Listener) error {
	for _, channel := range []string{"decision_journaled", "trade_executed"} {
		if err := listener.Listen(channel); err != nil {
			return err
		}
		el.logger.Printf("dashboard: listening on channel %q", channel)
	}
	return nil
}

func (el *EventListener) consume(ctx context.Context, listener *pq.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-el.shutdown:
			return nil
		case notification := <-listener.Notify:
			if notification == nil {
				return nil
			}
			el.onNotify(notification.Channel)
		}
	}
}
