// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VeloAuth Contributors

package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/fR0Z863xF/VeloAuth/internal/auth"
	"github.com/fR0Z863xF/VeloAuth/internal/gate"
	"github.com/fR0Z863xF/VeloAuth/internal/premium"
	"github.com/fR0Z863xF/VeloAuth/pkg/errutil"
)

// AdminService is the slice of the decision engine the admin API drives.
type AdminService interface {
	ListConflicts(ctx context.Context) ([]*auth.RegisteredPlayer, error)
	FindRegistration(ctx context.Context, nickname string) (*auth.RegisteredPlayer, error)
	DeleteRegistration(ctx context.Context, nickname, actor string) error
	InvalidateSessions(ctx context.Context, nickname, actor string) (int, error)
	ResolveConflict(ctx context.Context, nickname, actor string) error
}

var _ AdminService = (*gate.Engine)(nil)

// AdminAPI is the JWT-protected HTTP surface for operators: conflict
// listing and resolution, registration inspection and removal, session
// invalidation. Every mutation is attributed to the token's subject in the
// audit trail.
type AdminAPI struct {
	service  AdminService
	premium  *premium.StatusCache
	tokens   *TokenManager
	requests *prometheus.CounterVec
}

// NewAdminAPI wires the admin surface. The premium cache may be nil; the
// inspection endpoint then reports no cached classification.
func NewAdminAPI(service AdminService, statusCache *premium.StatusCache, tokens *TokenManager, reg prometheus.Registerer) (*AdminAPI, error) {
	if service == nil {
		return nil, oops.Code("ADMIN_MISSING_DEPENDENCY").Errorf("admin service is required")
	}
	if tokens == nil {
		return nil, oops.Code("ADMIN_MISSING_DEPENDENCY").Errorf("token manager is required")
	}

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veloauth_admin_requests_total",
			Help: "Admin API requests by endpoint and status code",
		},
		[]string{"endpoint", "status"},
	)
	if reg != nil {
		reg.MustRegister(requests)
	}

	return &AdminAPI{
		service:  service,
		premium:  statusCache,
		tokens:   tokens,
		requests: requests,
	}, nil
}

// Handler returns the authenticated admin mux.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /admin/conflicts", a.instrument("conflicts_list", a.handleListConflicts))
	mux.Handle("POST /admin/conflicts/{nickname}/resolve", a.instrument("conflict_resolve", a.handleResolveConflict))
	mux.Handle("GET /admin/players/{nickname}", a.instrument("player_inspect", a.handleInspectPlayer))
	mux.Handle("DELETE /admin/players/{nickname}", a.instrument("player_delete", a.handleDeletePlayer))
	mux.Handle("POST /admin/players/{nickname}/invalidate", a.instrument("sessions_invalidate", a.handleInvalidateSessions))
	return a.authenticate(mux)
}

type actorKeyType struct{}

var actorKey actorKeyType

func withActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func actorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}

// authenticate verifies the bearer token and stores the operator name in
// the request context.
func (a *AdminAPI) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		actor, err := a.tokens.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (a *AdminAPI) instrument(endpoint string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		a.requests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type conflictSummary struct {
	Nickname      string     `json:"nickname"`
	ConflictSince *time.Time `json:"conflict_since,omitempty"`
	PremiumUUID   string     `json:"premium_uuid,omitempty"`
	RegisteredIP  string     `json:"registered_ip"`
	LastLoginIP   string     `json:"last_login_ip,omitempty"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

func (a *AdminAPI) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	rows, err := a.service.ListConflicts(r.Context())
	if err != nil {
		errutil.LogError(slog.Default(), "conflict listing failed", err)
		writeError(w, http.StatusInternalServerError, "conflict listing failed")
		return
	}

	conflicts := make([]conflictSummary, 0, len(rows))
	for _, row := range rows {
		item := conflictSummary{
			Nickname:      row.Nickname,
			ConflictSince: row.ConflictSince,
			RegisteredIP:  row.RegisteredIP,
			LastLoginIP:   row.LastLoginIP,
		}
		if row.PremiumUUID != nil {
			item.PremiumUUID = row.PremiumUUID.String()
		}
		if !row.LastLoginAt.IsZero() {
			at := row.LastLoginAt
			item.LastLoginAt = &at
		}
		conflicts = append(conflicts, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

type playerInspection struct {
	Nickname      string     `json:"nickname"`
	State         string     `json:"state"`
	Registered    bool       `json:"registered"`
	UUID          string     `json:"uuid,omitempty"`
	PremiumUUID   string     `json:"premium_uuid,omitempty"`
	ConflictMode  bool       `json:"conflict_mode"`
	ConflictSince *time.Time `json:"conflict_since,omitempty"`
	RegisteredAt  *time.Time `json:"registered_at,omitempty"`
	LastLoginIP   string     `json:"last_login_ip,omitempty"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	PremiumCached bool       `json:"premium_cached"`
}

// handleInspectPlayer reports a name's claim state: who owns it, whether it
// is disputed, and what the cached premium classification says.
func (a *AdminAPI) handleInspectPlayer(w http.ResponseWriter, r *http.Request) {
	nickname := r.PathValue("nickname")
	if err := auth.ValidateNickname(nickname, 0, 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid nickname")
		return
	}

	row, err := a.service.FindRegistration(r.Context(), nickname)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		errutil.LogError(slog.Default(), "registration lookup failed", err)
		writeError(w, http.StatusInternalServerError, "registration lookup failed")
		return
	}

	var res premium.Resolution
	cached := false
	if a.premium != nil {
		if entry, ok := a.premium.GetPremiumStatus(nickname); ok {
			cached = true
			res = resolutionFromEntry(entry)
		}
	}

	out := playerInspection{
		Nickname:      nickname,
		State:         gate.ClaimState(row, res).String(),
		Registered:    row != nil,
		PremiumCached: cached,
	}
	if row != nil {
		out.Nickname = row.Nickname
		out.UUID = row.UUID.String()
		out.ConflictMode = row.ConflictMode
		out.ConflictSince = row.ConflictSince
		at := row.RegisteredAt
		out.RegisteredAt = &at
		out.LastLoginIP = row.LastLoginIP
		if !row.LastLoginAt.IsZero() {
			last := row.LastLoginAt
			out.LastLoginAt = &last
		}
		if row.PremiumUUID != nil {
			out.PremiumUUID = row.PremiumUUID.String()
		}
	} else if res.PremiumUUID != nil {
		out.PremiumUUID = res.PremiumUUID.String()
	}

	writeJSON(w, http.StatusOK, out)
}

func (a *AdminAPI) handleDeletePlayer(w http.ResponseWriter, r *http.Request) {
	nickname := r.PathValue("nickname")
	err := a.service.DeleteRegistration(r.Context(), nickname, actorFrom(r.Context()))
	if errors.Is(err, auth.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no registration for nickname")
		return
	}
	if err != nil {
		errutil.LogError(slog.Default(), "registration delete failed", err)
		writeError(w, http.StatusInternalServerError, "registration delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *AdminAPI) handleInvalidateSessions(w http.ResponseWriter, r *http.Request) {
	nickname := r.PathValue("nickname")
	ended, err := a.service.InvalidateSessions(r.Context(), nickname, actorFrom(r.Context()))
	if err != nil {
		errutil.LogError(slog.Default(), "session invalidation failed", err)
		writeError(w, http.StatusInternalServerError, "session invalidation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nickname":       nickname,
		"sessions_ended": ended,
	})
}

func (a *AdminAPI) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	nickname := r.PathValue("nickname")
	err := a.service.ResolveConflict(r.Context(), nickname, actorFrom(r.Context()))
	if errors.Is(err, auth.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no registration for nickname")
		return
	}
	if err != nil {
		errutil.LogError(slog.Default(), "conflict resolve failed", err)
		writeError(w, http.StatusInternalServerError, "conflict resolve failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func resolutionFromEntry(entry *premium.CacheEntry) premium.Resolution {
	if entry.Premium {
		return premium.Resolution{
			State:         premium.StatePremium,
			PremiumUUID:   entry.PremiumUUID,
			CanonicalName: entry.Username,
			Source:        "cache",
		}
	}
	return premium.Resolution{State: premium.StateOffline, Source: "cache"}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
