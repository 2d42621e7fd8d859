// Package proxymgr rotates extractor invocations across configured proxies.
// It handles health checking and failure backoff. A nil *Manager behaves as "no proxies".
package proxymgr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"sync"
	"time"

	"downloadflow/internal/config"
	"downloadflow/internal/observability"
)

// State represents the current state of a proxy.
type State int

const (
	// StateAvailable indicates the proxy is available for use.
	StateAvailable State = iota
	// StateFailed indicates the proxy has failed and is in backoff.
	StateFailed
)

const (
	// healthCheckTimeout is the timeout for proxy health checks.
	healthCheckTimeout = 10 * time.Second
	// maxBackoff caps the exponential failure backoff.
	maxBackoff = time.Hour
)

type proxyInfo struct {
	url           string
	state         State
	failureCount  int
	backoffUntil  time.Time
	lastHealthChk time.Time
}

// Manager manages proxy rotation and health.
type Manager struct {
	log     *slog.Logger
	cfg     *config.Config
	metrics *observability.Metrics

	mu      sync.Mutex
	proxies map[string]*proxyInfo
	order   []string // insertion order for stable iteration
}

// New creates a proxy manager, or returns nil when no proxies are configured.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *Manager {
	if len(cfg.Proxy.Proxies) == 0 {
		return nil
	}

	mgr := &Manager{
		log:     log.With(slog.String("package", "proxymgr")),
		cfg:     cfg,
		metrics: metrics,
		proxies: make(map[string]*proxyInfo, len(cfg.Proxy.Proxies)),
		order:   make([]string, 0, len(cfg.Proxy.Proxies)),
	}

	for _, proxy := range cfg.Proxy.Proxies {
		if _, dup := mgr.proxies[proxy]; dup {
			continue
		}

		mgr.proxies[proxy] = &proxyInfo{url: proxy, state: StateAvailable}
		mgr.order = append(mgr.order, proxy)
	}

	metrics.SetProxiesAvailable(len(mgr.order))

	return mgr
}

// Pick returns a random available proxy URL, or "" if none is available.
func (m *Manager) Pick() string {
	if m == nil {
		return ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	available := m.availableLocked()
	if len(available) == 0 {
		return ""
	}

	proxy := available[rand.IntN(len(available))]
	m.metrics.RecordProxyRequest(proxy)

	return proxy
}

// MarkFailed records a failure and puts the proxy into exponential backoff
// once it reaches the configured failure count.
func (m *Manager) MarkFailed(proxyURL string) {
	if m == nil || proxyURL == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.proxies[proxyURL]
	if !ok {
		return
	}

	info.failureCount++
	m.metrics.RecordProxyFailure(proxyURL)

	if info.failureCount < m.cfg.Proxy.MaxFailures {
		return
	}

	info.state = StateFailed

	backoff := m.cfg.Proxy.FailureBackoff * time.Duration(1<<min(info.failureCount-m.cfg.Proxy.MaxFailures, 16))
	backoff = min(backoff, maxBackoff)

	info.backoffUntil = time.Now().Add(backoff)

	m.metrics.SetProxiesAvailable(len(m.availableLocked()))

	m.log.Warn("proxy marked as failed",
		slog.String("proxy", proxyURL),
		slog.Int("failure_count", info.failureCount),
		slog.Duration("backoff", backoff))
}

// MarkSuccess resets the failure count of a proxy.
func (m *Manager) MarkSuccess(proxyURL string) {
	if m == nil || proxyURL == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.proxies[proxyURL]
	if !ok {
		return
	}

	info.state = StateAvailable
	info.failureCount = 0
	info.backoffUntil = time.Time{}

	m.metrics.SetProxiesAvailable(len(m.availableLocked()))
}

// AvailableCount returns the number of currently available proxies.
func (m *Manager) AvailableCount() int {
	if m == nil {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.availableLocked())
}

func (m *Manager) availableLocked() []string {
	now := time.Now()
	available := make([]string, 0, len(m.order))

	for _, proxyURL := range m.order {
		info := m.proxies[proxyURL]
		if info.state == StateAvailable || now.After(info.backoffUntil) {
			available = append(available, proxyURL)
		}
	}

	return available
}

// HealthCheck dials the proxy host and updates its state.
func (m *Manager) HealthCheck(ctx context.Context, proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("parse proxy URL: %w", err)
	}

	dialer := &net.Dialer{Timeout: healthCheckTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", parsed.Host)
	if err != nil {
		m.MarkFailed(proxyURL)

		return fmt.Errorf("dial proxy: %w", err)
	}
	defer conn.Close()

	m.mu.Lock()
	if info, ok := m.proxies[proxyURL]; ok {
		info.lastHealthChk = time.Now()
	}
	m.mu.Unlock()

	m.MarkSuccess(proxyURL)

	return nil
}

// StartHealthChecker checks all proxies every configured interval until ctx is done.
func (m *Manager) StartHealthChecker(ctx context.Context) {
	if m == nil || m.cfg.Proxy.HealthCheckInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.Proxy.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAll(ctx)
			}
		}
	}()

	m.log.Info("proxy health checker started",
		slog.Duration("interval", m.cfg.Proxy.HealthCheckInterval),
		slog.Int("proxy_count", len(m.order)))
}

func (m *Manager) checkAll(ctx context.Context) {
	m.mu.Lock()
	proxies := append([]string(nil), m.order...)
	m.mu.Unlock()

	for _, proxy := range proxies {
		if ctx.Err() != nil {
			return
		}

		if err := m.HealthCheck(ctx, proxy); err != nil {
			m.log.Debug("proxy health check failed", slog.String("proxy", proxy), slog.Any("error", err))
		}
	}
}
