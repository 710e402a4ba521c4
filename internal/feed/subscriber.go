package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleet-feeder/internal/dispatcher"
)

// Subscription pairs a source with the dispatcher that consumes it.
type Subscription struct {
	Source  Source
	Handler dispatcher.Handler
}

type Subscriber struct {
	interval     time.Duration
	fetchTimeout time.Duration
	log          *slog.Logger
}

func NewSubscriber(interval time.Duration, logger *slog.Logger) *Subscriber {
	timeout := 30 * time.Second
	if interval > timeout {
		timeout = interval
	}
	return &Subscriber{interval: interval, fetchTimeout: timeout, log: logger.With("component", "feed")}
}

// Run drives every subscription in its own goroutine until ctx is done or
// each handler has asked to stop.
func (s *Subscriber) Run(ctx context.Context, subs ...Subscription) {
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.run(ctx, sub)
		}()
	}
	wg.Wait()
}

func (s *Subscriber) run(ctx context.Context, sub Subscription) {
	name := sub.Handler.Name()
	s.log.Info("subscription started", "feed", name, "interval", s.interval.String())
	defer s.log.Info("subscription stopped", "feed", name)

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.tick(ctx, sub) == dispatcher.Stop {
				return
			}
			t.Reset(s.interval)
		}
	}
}

func (s *Subscriber) tick(ctx context.Context, sub Subscription) dispatcher.Action {
	cctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	batch, err := sub.Source.Next(cctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return dispatcher.Stop
		}
		return sub.Handler.OnError(err)
	}
	if err := sub.Handler.OnData(ctx, batch); err != nil {
		if ctx.Err() != nil {
			return dispatcher.Stop
		}
		return sub.Handler.OnError(err)
	}
	return dispatcher.Continue
}
