// Package scheduler drives the polling loop that checks every enabled
// provider once per interval and records the results.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/modelwatch/modelwatch/internal/logging"
	"github.com/modelwatch/modelwatch/internal/metrics"
	"github.com/modelwatch/modelwatch/internal/probes"
	"github.com/modelwatch/modelwatch/internal/storage"
	"github.com/modelwatch/modelwatch/pkg/models"
)

// Poller runs one check cycle per interval. Within a cycle every
// provider is checked concurrently; cycles never overlap for the same
// poller because the next tick waits for the previous cycle's results
// to be appended.
type Poller struct {
	logger    *logging.Logger
	metrics   *metrics.Metrics
	registry  *probes.Registry
	store     storage.Store
	providers []models.ProviderConfig
	interval  time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.RWMutex
	running bool
	lastRun time.Time
}

// NewPoller creates a poller over the configured providers
func NewPoller(providers []models.ProviderConfig, interval time.Duration, registry *probes.Registry, store storage.Store, logger *logging.Logger, m *metrics.Metrics) *Poller {
	return &Poller{
		logger:    logger.WithComponent(logging.ComponentScheduler),
		metrics:   m,
		registry:  registry,
		store:     store,
		providers: providers,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the polling loop. The first cycle runs immediately.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	enabled := 0
	for i := range p.providers {
		if p.providers[i].IsEnabled() {
			enabled++
		}
	}
	if p.metrics != nil {
		p.metrics.UpdateProviderCounts(len(p.providers), enabled)
	}

	p.logger.WithFields(map[string]interface{}{
		"providers": len(p.providers),
		"enabled":   enabled,
		"interval":  p.interval.String(),
	}).Info("Starting poller")

	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop signals the loop and waits for the in-flight cycle to finish
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("Stopping poller")
	close(p.stopChan)
	p.wg.Wait()
}

// LastRun reports when the most recent cycle completed
func (p *Poller) LastRun() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRun
}

// Interval returns the polling interval
func (p *Poller) Interval() time.Duration {
	return p.interval
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	p.RunCycle(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped by context")
			return
		case <-p.stopChan:
			p.logger.Info("Poller stopped by signal")
			return
		case <-ticker.C:
			p.RunCycle(ctx)
		}
	}
}

// RunCycle checks every enabled provider concurrently and appends the
// batch of results to the snapshot store.
func (p *Poller) RunCycle(ctx context.Context) {
	p.logger.WithEvent(logging.EventCheckStarted).Debug("Check cycle started")

	var wg sync.WaitGroup
	resultCh := make(chan models.CheckResult, len(p.providers))

	for i := range p.providers {
		provider := p.providers[i]
		if !provider.IsEnabled() {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resultCh <- p.checkProvider(ctx, provider)
		}()
	}

	wg.Wait()
	close(resultCh)

	results := make([]models.CheckResult, 0, len(p.providers))
	for result := range resultCh {
		results = append(results, result)
		if p.metrics != nil {
			p.metrics.RecordCheck(&result)
		}
	}

	p.store.Append(ctx, results)

	p.mu.Lock()
	p.lastRun = time.Now()
	p.mu.Unlock()

	p.logger.WithEvent(logging.EventCheckCompleted).WithFields(map[string]interface{}{
		"results": len(results),
	}).Debug("Check cycle completed")
}

// checkProvider runs one provider's check, short-circuiting providers
// flagged for maintenance without any network activity.
func (p *Poller) checkProvider(ctx context.Context, provider models.ProviderConfig) models.CheckResult {
	if provider.Maintenance {
		return models.CheckResult{
			ID:        provider.ID,
			Name:      provider.Name,
			Type:      provider.Type,
			Endpoint:  provider.Endpoint,
			Model:     provider.Model,
			Status:    models.StatusMaintenance,
			CheckedAt: time.Now().UTC(),
			Message:   "provider under maintenance",
			GroupName: provider.GroupName,
		}
	}

	prober, ok := p.registry.For(provider.Type)
	if !ok {
		p.logger.WithEvent(logging.EventCheckFailed).
			WithProvider(provider.ID, string(provider.Type), provider.GroupName).
			Error("No prober for protocol")
		return models.CheckResult{
			ID:        provider.ID,
			Name:      provider.Name,
			Type:      provider.Type,
			Endpoint:  provider.Endpoint,
			Model:     provider.Model,
			Status:    models.StatusError,
			CheckedAt: time.Now().UTC(),
			Message:   "unsupported protocol: " + string(provider.Type),
			GroupName: provider.GroupName,
		}
	}

	return prober.RunCheck(ctx, provider)
}
