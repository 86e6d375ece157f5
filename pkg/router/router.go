package router

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/polygate/polygate/pkg/api"
	"github.com/polygate/polygate/pkg/observability"
	"github.com/polygate/polygate/pkg/provider"
)

// Options tunes the router. The zero value is usable; unset fields take the
// defaults below.
type Options struct {
	// EWMAAlpha weighs new samples in the success-rate and latency
	// aggregates. Defaults to 0.3.
	EWMAAlpha float64

	// DegradedThreshold is the consecutive-failure count that downgrades
	// Healthy to Degraded. Defaults to 3.
	DegradedThreshold int

	// UnhealthyThreshold is the consecutive-failure count that downgrades
	// to Unhealthy. Defaults to 6.
	UnhealthyThreshold int

	// RecoverySuccesses is the consecutive-success count that upgrades
	// health one step. Defaults to 3.
	RecoverySuccesses int

	// Cooldown is how long an Unhealthy provider is skipped before it may
	// serve a probe request. Defaults to 30s.
	Cooldown time.Duration

	// MaxInFlight caps concurrent requests per provider; excess traffic
	// spills to the next-best candidate. Zero means unlimited.
	MaxInFlight int

	// BreakerTimeout is the circuit breaker's open interval. Defaults to
	// the Cooldown.
	BreakerTimeout time.Duration

	// Now reports the current time. Defaults to time.Now.
	Now func() time.Time

	// Logger receives routing decisions. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.EWMAAlpha == 0 {
		o.EWMAAlpha = 0.3
	}
	if o.DegradedThreshold == 0 {
		o.DegradedThreshold = 3
	}
	if o.UnhealthyThreshold == 0 {
		o.UnhealthyThreshold = 6
	}
	if o.RecoverySuccesses == 0 {
		o.RecoverySuccesses = 3
	}
	if o.Cooldown == 0 {
		o.Cooldown = 30 * time.Second
	}
	if o.BreakerTimeout == 0 {
		o.BreakerTimeout = o.Cooldown
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Router holds the provider records and applies the selection policy.
type Router struct {
	opts Options

	mu      sync.RWMutex
	records []*Record
}

// New creates an empty router.
func New(opts Options) *Router {
	return &Router{opts: opts.withDefaults()}
}

// Register adds a provider with the given priority. Higher priority wins.
func (rt *Router) Register(p provider.Provider, priority int) {
	rec := &Record{
		Provider:    p,
		Priority:    priority,
		health:      Healthy,
		successRate: 1.0,
	}
	rec.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    p.Name(),
		Timeout: rt.opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(rt.opts.UnhealthyThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			rt.opts.Logger.Warn("circuit breaker state change",
				"provider", name, "from", from.String(), "to", to.String())
		},
	})

	rt.mu.Lock()
	rt.records = append(rt.records, rec)
	rt.mu.Unlock()
}

// Snapshots returns the current state of every record, in registration
// order. Used by health endpoints and logs.
func (rt *Router) Snapshots() []Snapshot {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]Snapshot, 0, len(rt.records))
	for _, rec := range rt.records {
		out = append(out, rec.Snapshot())
	}
	return out
}

// Models returns the union of model names served by registered providers,
// in first-seen order. Providers that serve any model contribute nothing.
func (rt *Router) Models() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, rec := range rt.records {
		for _, m := range rec.Provider.Models() {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// pick returns the eligible candidates for a model, best first: priority
// descending, then success rate descending, then latency ascending.
func (rt *Router) pick(model string) []*Record {
	now := rt.opts.Now()

	rt.mu.RLock()
	candidates := make([]*Record, 0, len(rt.records))
	for _, rec := range rt.records {
		if rec.eligible(model, rt.opts.MaxInFlight, rt.opts.Cooldown, now) {
			candidates = append(candidates, rec)
		}
	}
	rt.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Snapshot(), candidates[j].Snapshot()
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return a.Latency < b.Latency
	})
	return candidates
}

// Invoke routes a non-streaming request to the best provider. Candidates
// whose circuit breaker is open are skipped; an invocation failure is fed
// back into the record and returned without further retries.
func (rt *Router) Invoke(ctx context.Context, req *api.Request) (*api.Response, error) {
	candidates := rt.pick(req.ModelHint)
	if len(candidates) == 0 {
		return nil, api.NewProviderUnavailableError("no healthy provider for model " + req.ModelHint)
	}

	for _, rec := range candidates {
		rec.acquire()
		start := rt.opts.Now()

		result, err := rec.breaker.Execute(func() (any, error) {
			return rec.Provider.Invoke(ctx, req)
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			rec.release()
			rt.opts.Logger.Debug("skipping provider with open breaker", "provider", rec.Provider.Name())
			continue
		}

		elapsed := rt.opts.Now().Sub(start)
		rec.observe(err == nil, elapsed, rt.opts)
		observability.ObserveProvider(rec.Provider.Name(), req.ModelHint, err == nil, elapsed.Seconds())
		rec.release()

		if err != nil {
			return nil, err
		}
		return result.(*api.Response), nil
	}
	return nil, api.NewProviderUnavailableError("all providers for model " + req.ModelHint + " are unavailable")
}

// Stream routes a streaming request to the best provider. The returned
// channel mirrors the provider's stream; the record's outcome and in-flight
// slot are settled when the stream reaches a terminal event or closes.
func (rt *Router) Stream(ctx context.Context, req *api.Request) (<-chan api.Event, error) {
	candidates := rt.pick(req.ModelHint)
	if len(candidates) == 0 {
		return nil, api.NewProviderUnavailableError("no healthy provider for model " + req.ModelHint)
	}

	for _, rec := range candidates {
		rec.acquire()
		start := rt.opts.Now()

		result, err := rec.breaker.Execute(func() (any, error) {
			return rec.Provider.Stream(ctx, req)
		})

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			rec.release()
			rt.opts.Logger.Debug("skipping provider with open breaker", "provider", rec.Provider.Name())
			continue
		}
		if err != nil {
			elapsed := rt.opts.Now().Sub(start)
			rec.observe(false, elapsed, rt.opts)
			observability.ObserveProvider(rec.Provider.Name(), req.ModelHint, false, elapsed.Seconds())
			rec.release()
			return nil, err
		}

		upstream := result.(<-chan api.Event)
		return rt.watch(ctx, rec, start, req.ModelHint, upstream), nil
	}
	return nil, api.NewProviderUnavailableError("all providers for model " + req.ModelHint + " are unavailable")
}

// watch forwards events unchanged while observing the terminal outcome.
// The upstream channel is always drained to completion, so a consumer that
// stops reading cannot pin the record's in-flight slot; events the consumer
// never takes are dropped once the request context ends.
func (rt *Router) watch(ctx context.Context, rec *Record, start time.Time, model string, upstream <-chan api.Event) <-chan api.Event {
	out := make(chan api.Event, 16)
	go func() {
		defer close(out)
		settled := false
		settle := func(success bool) {
			if settled {
				return
			}
			settled = true
			elapsed := rt.opts.Now().Sub(start)
			rec.observe(success, elapsed, rt.opts)
			observability.ObserveProvider(rec.Provider.Name(), model, success, elapsed.Seconds())
			rec.release()
		}
		defer settle(false)

		var pending []api.Event
		open := true
		for open || len(pending) > 0 {
			var sendCh chan api.Event
			var head api.Event
			if len(pending) > 0 {
				sendCh = out
				head = pending[0]
			}
			var recvCh <-chan api.Event
			if open {
				recvCh = upstream
			}

			select {
			case evt, ok := <-recvCh:
				if !ok {
					open = false
					// A stream that ends without a terminal event counts
					// as a failure.
					settle(false)
					continue
				}
				switch evt.Type {
				case api.EventStopped:
					settle(true)
				case api.EventError:
					settle(false)
				}
				pending = append(pending, evt)
			case sendCh <- head:
				pending = pending[1:]
			case <-ctx.Done():
				if open {
					for range upstream {
					}
				}
				settle(false)
				return
			}
		}
	}()
	return out
}
