package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultCheckInterval = 30 * time.Second
	defaultCheckTimeout  = 10 * time.Second
	unhealthyThreshold   = 3
)

// HealthStatus represents the current health state of a provider.
type HealthStatus struct {
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// HealthChecker periodically probes providers. A provider turns unhealthy
// after three consecutive failures and healthy again after one success.
type HealthChecker struct {
	mu            sync.RWMutex
	log           zerolog.Logger
	providers     []Provider
	statuses      map[string]*HealthStatus
	checkInterval time.Duration
	checkTimeout  time.Duration
	stopCh        chan struct{}
	stopped       chan struct{}
}

// NewHealthChecker creates a checker for the given providers. A zero
// interval selects the default of 30s.
func NewHealthChecker(log zerolog.Logger, interval time.Duration, providers ...Provider) *HealthChecker {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &HealthChecker{
		log:           log,
		providers:     providers,
		statuses:      make(map[string]*HealthStatus),
		checkInterval: interval,
		checkTimeout:  defaultCheckTimeout,
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Start begins the background health check loop.
func (hc *HealthChecker) Start() {
	go hc.run()
}

// Stop signals the health check loop to terminate and waits for it to finish.
func (hc *HealthChecker) Stop() {
	close(hc.stopCh)
	<-hc.stopped
}

// IsHealthy returns whether a provider is currently healthy. Unchecked
// providers are unhealthy.
func (hc *HealthChecker) IsHealthy(name string) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	status, ok := hc.statuses[name]
	return ok && status.Healthy
}

// Statuses returns a snapshot of all provider health statuses.
func (hc *HealthChecker) Statuses() map[string]HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	result := make(map[string]HealthStatus, len(hc.statuses))
	for name, status := range hc.statuses {
		result[name] = *status
	}
	return result
}

// CheckNow runs one probe cycle and returns the resulting snapshot.
func (hc *HealthChecker) CheckNow(ctx context.Context) map[string]HealthStatus {
	for _, p := range hc.providers {
		hc.checkProvider(ctx, p)
	}
	return hc.Statuses()
}

func (hc *HealthChecker) run() {
	defer close(hc.stopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-hc.stopCh
		cancel()
	}()

	hc.CheckNow(ctx)

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.CheckNow(ctx)
		}
	}
}

func (hc *HealthChecker) checkProvider(ctx context.Context, p Provider) {
	ctx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
	defer cancel()

	err := p.HealthCheck(ctx)
	name := p.GetName()

	hc.mu.Lock()
	defer hc.mu.Unlock()

	status, ok := hc.statuses[name]
	if !ok {
		status = &HealthStatus{Healthy: true}
		hc.statuses[name] = status
	}
	status.LastCheck = time.Now()

	if err != nil {
		status.ConsecutiveFailures++
		status.LastError = err.Error()
		if status.ConsecutiveFailures >= unhealthyThreshold && status.Healthy {
			status.Healthy = false
			hc.log.Warn().Str("provider", name).Err(err).Msg("provider marked unhealthy")
		}
		return
	}
	if !status.Healthy {
		hc.log.Info().Str("provider", name).Msg("provider recovered")
	}
	status.ConsecutiveFailures = 0
	status.Healthy = true
	status.LastError = ""
}
