package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/custody-backend/api/responses"
	pkgerrors "github.com/angelmondragon/custody-backend/pkg/errors"
	"github.com/angelmondragon/custody-backend/pkg/logger"
)

type windowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// IngressPolicy throttles unauthenticated inbound traffic. Each dimension
// (client ip, provider path segment) has its own counter; 0 disables one.
type IngressPolicy struct {
	name          string
	window        time.Duration
	ipLimit       int
	providerLimit int
}

func NewIngressPolicy(name string, window time.Duration, ipLimit, providerLimit int) IngressPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "ingress"
	}
	return IngressPolicy{name: name, window: window, ipLimit: ipLimit, providerLimit: providerLimit}
}

func (p IngressPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.providerLimit > 0)
}

type dimension struct {
	scope string
	value string
	limit int
}

func (p IngressPolicy) dimensions(r *http.Request) []dimension {
	return []dimension{
		{scope: "ip", value: clientIP(r), limit: p.ipLimit},
		{scope: "provider", value: strings.ToLower(chi.URLParam(r, "provider")), limit: p.providerLimit},
	}
}

// counter is the limiter scope, e.g. "ingress:webhooks:ip:1.2.3.4".
func (p IngressPolicy) counter(d dimension) string {
	return "ingress:" + p.name + ":" + d.scope + ":" + d.value
}

// IngressRateLimit enforces fixed-window counters before the body is read. A
// limiter outage lets traffic through; webhook dedup downstream still holds.
func IngressRateLimit(policy IngressPolicy, limiter windowLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			for _, d := range policy.dimensions(r) {
				if d.limit <= 0 || d.value == "" {
					continue
				}
				allowed, count, err := limiter.FixedWindowAllow(ctx, policy.counter(d), int64(d.limit), policy.window)
				if err != nil {
					if logg != nil {
						logg.Warn(logg.WithField(ctx, "scope", d.scope), "ingress.rate_limit.unavailable")
					}
					continue
				}
				if !allowed {
					rejectRateLimited(ctx, logg, w, policy, d, count)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy IngressPolicy, d dimension, count int64) {
	retryAfter := int(policy.window.Seconds())
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"policy":         policy.name,
			"scope":          d.scope,
			"scope_value":    d.value,
			"attempts":       count,
			"limit":          d.limit,
			"window_seconds": retryAfter,
		}), "ingress.rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

// clientIP takes the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for _, hop := range strings.Split(fwd, ",") {
			if ip := strings.TrimSpace(hop); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
