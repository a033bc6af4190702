package cfg

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost",
	"http://production-domain.com",
}

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Host             string
	Port             string
	Environment      string
	LogLevel         string
	RedisURL         string
	RedisTLS         bool
	RedisUsername    string
	RedisPassword    Secret
	RedisTimeout     time.Duration
	AllowedOrigins   []string
	ContextTimeout   time.Duration
	MaxRequestSize   int64
	RateLimit        RateLimitCfg
	LimiterCacheSize int
	TrustedProxies   []string
	MetricsUser      string
	MetricsPass      Secret
	EnableProfiler   bool
	EventsURL        Secret
	EventsExchange   string
}

type RateLimitCfg struct {
	RPM               int
	Burst             int
	ConservativeLimit int
}

// Load reads .env (when present) and then the process environment. Variables
// already set in the environment win over the file.
func Load() (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return nil, errors.Wrap(err, "load .env")
	}
	c := &Cfg{}
	c.Host = getEnv("HOST", "")
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.RedisURL = getEnv("REDIS_URL", "redis://127.0.0.1:6379")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	var err error
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", append([]string(nil), defaultOrigins...))
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	c.MaxRequestSize, err = getInt64("MAX_REQUEST_SIZE", 10*1024*1024)
	if err != nil {
		return nil, err
	}
	c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", 600)
	if err != nil {
		return nil, err
	}
	c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, err
	}
	c.RateLimit.ConservativeLimit, err = getInt("RATE_LIMIT_CONSERVATIVE", 60)
	if err != nil {
		return nil, err
	}
	c.LimiterCacheSize, err = getInt("LIMITER_CACHE_SIZE", 10000)
	if err != nil {
		return nil, err
	}
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.EnableProfiler = getEnv("ENABLE_PROFILER", "false") == "true"
	c.EventsURL = NewSecret(getEnv("EVENTS_URL", ""))
	c.EventsExchange = getEnv("EVENTS_EXCHANGE", "driftbin_events")
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 0 || p > 65535 {
		return errors.New("PORT must be a number")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		return errors.New("REDIS_URL must start with redis:// or rediss://")
	}
	if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
		return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
	}
	if c.RedisTimeout <= 0 {
		return errors.New("REDIS_TIMEOUT must be positive")
	}
	if c.ContextTimeout <= 0 {
		return errors.New("CONTEXT_TIMEOUT must be positive")
	}
	if c.MaxRequestSize <= 0 {
		return errors.New("MAX_REQUEST_SIZE must be positive")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimit.ConservativeLimit <= 0 {
		return errors.New("RATE_LIMIT_CONSERVATIVE must be positive")
	}
	if c.LimiterCacheSize <= 0 {
		return errors.New("LIMITER_CACHE_SIZE must be positive")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}
	if ev := c.EventsURL.Value(); ev != "" {
		if !strings.HasPrefix(ev, "amqp://") && !strings.HasPrefix(ev, "amqps://") {
			return errors.New("EVENTS_URL must start with amqp:// or amqps://")
		}
		if c.EventsExchange == "" {
			return errors.New("EVENTS_EXCHANGE is required when EVENTS_URL is set")
		}
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Cfg) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.EventsURL.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
