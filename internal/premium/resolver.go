// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package premium

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default resolver values.
const (
	// DefaultSourceTimeout bounds a single request to one authority.
	DefaultSourceTimeout = 400 * time.Millisecond

	// DefaultRequestsPerMinute is the per-source sliding-window budget.
	DefaultRequestsPerMinute = 60

	// retryBase is the initial backoff delay; it doubles per attempt.
	retryBase = 100 * time.Millisecond

	// maxRetries is how many additional attempts follow a transient
	// I/O failure.
	maxRetries = 2
)

// slidingWindow counts events inside a moving period. Unlike the token
// bucket used for pre-auth limiting it never lends burst credit from the
// future; at most limit calls succeed within any window.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	stamps []time.Time
}

func newSlidingWindow(limit int, period time.Duration) *slidingWindow {
	return &slidingWindow{limit: limit, period: period}
}

func (w *slidingWindow) allow(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.period)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

type source struct {
	cfg    SourceConfig
	window *slidingWindow
}

// HTTPResolver queries identity authorities over HTTP in configured order.
// The first definitive answer (premium or offline) wins; a source that
// cannot answer falls through to the next one.
type HTTPResolver struct {
	sources []*source
	client  *http.Client

	lookups     *prometheus.CounterVec
	rateLimited prometheus.Counter
}

// NewHTTPResolver creates a resolver over the enabled sources. reg may be
// nil to skip metrics registration.
func NewHTTPResolver(configs []SourceConfig, reg prometheus.Registerer) (*HTTPResolver, error) {
	r := &HTTPResolver{
		// Per-request deadlines come from each source's timeout.
		client: &http.Client{},
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		if cfg.Timeout <= 0 {
			cfg.Timeout = DefaultSourceTimeout
		}
		if cfg.RequestsPerMinute <= 0 {
			cfg.RequestsPerMinute = DefaultRequestsPerMinute
		}
		r.sources = append(r.sources, &source{
			cfg:    cfg,
			window: newSlidingWindow(cfg.RequestsPerMinute, time.Minute),
		})
	}

	if reg != nil {
		r.lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "veloauth_premium_lookups_total",
			Help: "Identity authority lookups by source and outcome",
		}, []string{"source", "outcome"})
		r.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veloauth_premium_rate_limited_total",
			Help: "Lookups skipped because a source's request window was full",
		})
		reg.MustRegister(r.lookups, r.rateLimited)
	}

	return r, nil
}

// Resolve classifies a username by asking each source in order until one
// gives a definitive answer. It never returns an error; everything short
// of an answer is a StateUnknown resolution with a diagnostic message.
func (r *HTTPResolver) Resolve(ctx context.Context, username string) Resolution {
	if len(r.sources) == 0 {
		return Resolution{State: StateUnknown, Source: "none", Message: "no identity sources enabled"}
	}

	var last Resolution
	for _, src := range r.sources {
		last = r.resolveOne(ctx, src, username)
		if r.lookups != nil {
			r.lookups.WithLabelValues(src.cfg.Name, last.State.String()).Inc()
		}
		if last.State != StateUnknown {
			return last
		}
		slog.Debug("identity source gave no answer",
			"source", src.cfg.Name,
			"username", username,
			"reason", last.Message,
		)
	}
	return last
}

func (r *HTTPResolver) resolveOne(ctx context.Context, src *source, username string) Resolution {
	if !src.window.allow(time.Now()) {
		if r.rateLimited != nil {
			r.rateLimited.Inc()
		}
		return Resolution{State: StateUnknown, Source: src.cfg.Name, Message: "rate limited"}
	}

	var res Resolution
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt, err := r.query(ctx, src, username)
		if err != nil {
			// Transient I/O failure; retry.Do decides whether budget remains.
			return retry.RetryableError(err)
		}
		res = attempt
		return nil
	})
	if err != nil {
		slog.Debug("identity source unreachable",
			"source", src.cfg.Name,
			"username", username,
			"error", err.Error(),
		)
		return Resolution{State: StateUnknown, Source: src.cfg.Name, Message: "io error after retries"}
	}
	return res
}

// query performs a single request against one source. A returned error is
// always a transient I/O failure; definitive and non-retryable outcomes
// come back as resolutions.
func (r *HTTPResolver) query(ctx context.Context, src *source, username string) (Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, src.cfg.Timeout)
	defer cancel()

	lookupURL := fmt.Sprintf(src.cfg.URL, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		// A malformed URL never improves on retry.
		return Resolution{
			State:   StateUnknown,
			Source:  src.cfg.Name,
			Message: "invalid lookup url",
		}, nil
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Resolution{}, oops.Code("PREMIUM_SOURCE_IO").
			With("source", src.cfg.Name).
			Wrap(err)
	}
	defer resp.Body.Close()

	for _, code := range src.cfg.NotFoundCodes {
		if resp.StatusCode == code {
			return Resolution{State: StateOffline, Source: src.cfg.Name, Message: "not found"}, nil
		}
	}
	if resp.StatusCode != http.StatusOK {
		return Resolution{
			State:   StateUnknown,
			Source:  src.cfg.Name,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}, nil
	}

	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Resolution{
			State:   StateUnknown,
			Source:  src.cfg.Name,
			Message: "unparseable response body",
		}, nil
	}

	rawID, ok := extractField(body, src.cfg.UUIDField)
	if !ok || rawID == "" {
		return Resolution{
			State:   StateUnknown,
			Source:  src.cfg.Name,
			Message: fmt.Sprintf("missing identity id field %q", src.cfg.UUIDField),
		}, nil
	}

	// Authorities return ids both dashed and undashed; uuid.Parse takes both.
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Resolution{
			State:   StateUnknown,
			Source:  src.cfg.Name,
			Message: "unparseable identity id",
		}, nil
	}
	if id == uuid.Nil {
		return Resolution{
			State:   StateUnknown,
			Source:  src.cfg.Name,
			Message: "all-zero identity id",
		}, nil
	}

	canonical, _ := extractField(body, src.cfg.NameField)

	return Resolution{
		State:         StatePremium,
		PremiumUUID:   &id,
		CanonicalName: canonical,
		Source:        src.cfg.Name,
	}, nil
}
