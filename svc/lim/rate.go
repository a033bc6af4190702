package lim

import (
	"context"
	"driftbin/metrics"
	"driftbin/svc/util"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	redisBudget    = 100 * time.Millisecond
	adaptiveWindow = 60 * time.Second
)

// Counter is the shared fixed-window counter. *db.Redis implements it.
type Counter interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

type Limiter struct {
	counter           Counter
	trustedProxies    []string
	detector          *AnomalyDetector
	adaptiveModeUntil int64
	local             *lru.Cache[string, *rate.Limiter]
	conservativeLimit int
	burstLimit        int
	globalRPM         int
}
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// New builds a limiter. counter may be nil, in which case only the per-IP
// local buckets apply.
func New(globalRPM, perIPBurst, conservativeLimit, cacheSize int, counter Counter, trustedProxies []string) *Limiter {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				panic(fmt.Sprintf("invalid CIDR in trustedProxies: %s: %v", proxy, err))
			}
		} else {
			if net.ParseIP(proxy) == nil {
				panic(fmt.Sprintf("invalid IP in trustedProxies: %s", proxy))
			}
		}
	}
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	local, err := lru.New[string, *rate.Limiter](cacheSize)
	if err != nil {
		panic(fmt.Sprintf("limiter cache: %v", err))
	}
	l := &Limiter{
		counter:           counter,
		trustedProxies:    trustedProxies,
		local:             local,
		conservativeLimit: conservativeLimit,
		burstLimit:        perIPBurst,
		globalRPM:         globalRPM,
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	l.detector.Start()
	return l
}
func (l *Limiter) Stop() {
	l.detector.Stop()
}
func (l *Limiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveModeUntil, time.Now().Add(adaptiveWindow).Unix())
}
func (l *Limiter) isAdaptiveMode() bool {
	until := atomic.LoadInt64(&l.adaptiveModeUntil)
	return time.Now().Unix() < until
}
func (l *Limiter) RecordRequest() {
	l.detector.RecordRequest()
}
func (l *Limiter) RecordError() {
	l.detector.RecordError()
}
func halve(n int) int {
	n = n / 2
	if n < 1 {
		n = 1
	}
	return n
}

// CheckLimit applies the global per-endpoint window when the shared counter
// answers, and falls back to a per-IP token bucket when it does not.
func (l *Limiter) CheckLimit(r *http.Request, endpoint string) *RateLimitResult {
	ip := GetRealIP(r, l.trustedProxies)
	now := time.Now()
	if l.counter != nil {
		globalLimit := l.globalRPM
		if l.isAdaptiveMode() {
			globalLimit = halve(globalLimit)
		}
		ctx, cancel := context.WithTimeout(r.Context(), redisBudget)
		defer cancel()
		usage, err := l.counter.RateLimit(ctx, "global:"+endpoint, globalLimit, time.Minute)
		if err == nil {
			remaining := globalLimit - usage
			if remaining < 0 {
				remaining = 0
			}
			res := &RateLimitResult{
				Allowed:   usage <= globalLimit,
				Limit:     globalLimit,
				Remaining: remaining,
				Reset:     now.Add(time.Minute),
			}
			if !res.Allowed {
				metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
			}
			return res
		}
		util.Warn().Err(err).Msg("shared rate limit unavailable, using local fallback")
	}
	res := l.checkLocal(ip, endpoint)
	if !res.Allowed {
		metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
	}
	return res
}
func (l *Limiter) checkLocal(ip, endpoint string) *RateLimitResult {
	limit := l.conservativeLimit
	if l.isAdaptiveMode() {
		limit = halve(limit)
	}
	burst := l.burstLimit
	if burst <= 0 || burst > limit {
		burst = limit
	}
	key := ip + ":" + endpoint
	lim, ok := l.local.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limit)/60.0), burst)
		if prev, found, _ := l.local.PeekOrAdd(key, lim); found {
			lim = prev
		}
	}
	reset := time.Now().Add(time.Minute)
	if !lim.Allow() {
		return &RateLimitResult{Allowed: false, Limit: limit, Remaining: 0, Reset: reset}
	}
	remaining := int(lim.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{Allowed: true, Limit: limit, Remaining: remaining, Reset: reset}
}

func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 {
		return remoteIP
	}
	if !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}

	const maxIPsToParse = 100
	parsedCount := 0
	remaining := xff
	// walk right to left; the first untrusted hop is the client
	for len(remaining) > 0 && parsedCount < maxIPsToParse {
		lastComma := strings.LastIndexByte(remaining, ',')
		var ipStr string
		if lastComma == -1 {
			ipStr = strings.TrimSpace(remaining)
			remaining = ""
		} else {
			ipStr = strings.TrimSpace(remaining[lastComma+1:])
			remaining = remaining[:lastComma]
		}
		if ipStr == "" {
			continue
		}
		parsedCount++
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", util.RedactIP(ipStr)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	if parsedCount >= maxIPsToParse {
		util.Warn().Int("parsed", parsedCount).Str("remote", util.RedactIP(remoteIP)).Msg("XFF header excessive, truncated parsing")
	}
	return remoteIP
}
func isTrustedProxy(ip string, trustedProxies []string) bool {
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") {
			_, subnet, err := net.ParseCIDR(proxy)
			if err == nil {
				parsedIP := net.ParseIP(ip)
				if parsedIP != nil && subnet.Contains(parsedIP) {
					return true
				}
			}
		}
	}
	return false
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
