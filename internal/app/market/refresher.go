package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/agentchat/internal/app/metrics"
	"github.com/R3E-Network/agentchat/internal/app/system"
	"github.com/R3E-Network/agentchat/pkg/logger"
)

const defaultSchedule = "@every 1m"

var _ system.Service = (*Refresher)(nil)

// Refresher pulls quotes from a Fetcher on a cron schedule and stores them
// through the Service. Failed runs are logged and counted; the schedule keeps
// going.
type Refresher struct {
	service  *Service
	log      *logger.Logger
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	fetcher Fetcher
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewRefresher creates a lifecycle-managed market refresher. An empty
// schedule runs every minute.
func NewRefresher(service *Service, schedule string, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("market-refresher")
	}
	if schedule == "" {
		schedule = defaultSchedule
	}
	return &Refresher{
		service:  service,
		log:      log,
		schedule: schedule,
		timeout:  30 * time.Second,
	}
}

// WithFetcher assigns the fetcher used to retrieve external quotes.
func (r *Refresher) WithFetcher(fetcher Fetcher) {
	r.mu.Lock()
	r.fetcher = fetcher
	r.mu.Unlock()
}

func (r *Refresher) Name() string { return "market-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(r.ctx) }); err != nil {
		return fmt.Errorf("invalid market schedule %q: %w", r.schedule, err)
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.cron = c
	r.running = true
	c.Start()

	r.log.WithField("schedule", r.schedule).Info("market refresher started")
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c, cancel := r.cron, r.cancel
	r.running = false
	r.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("market refresher stopped")
	return nil
}

// RunOnce performs a single fetch and store. It reports whether quotes were
// stored.
func (r *Refresher) RunOnce(ctx context.Context) bool {
	r.mu.Lock()
	fetcher := r.fetcher
	r.mu.Unlock()
	if fetcher == nil || r.service == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	quotes, err := fetcher.Fetch(ctx)
	if err != nil {
		metrics.RecordMarketRefresh(false)
		r.log.WithError(err).Warn("market fetch failed")
		return false
	}
	if len(quotes) == 0 {
		metrics.RecordMarketRefresh(false)
		r.log.Warn("market fetch returned no quotes")
		return false
	}
	if _, err := r.service.Upsert(ctx, quotes); err != nil {
		metrics.RecordMarketRefresh(false)
		r.log.WithError(err).Warn("market upsert failed")
		return false
	}
	metrics.RecordMarketRefresh(true)
	return true
}
