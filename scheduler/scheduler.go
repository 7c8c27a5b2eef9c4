package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quicklywilliam/usedevpricetracker-sub000/config"
	"github.com/quicklywilliam/usedevpricetracker-sub000/scraper"
	"github.com/quicklywilliam/usedevpricetracker-sub000/services"
)

// Scheduler triggers the daily pipeline: scrape every enabled source, then
// reconcile the listings that disappeared since the previous snapshot.
type Scheduler struct {
	cfg          *config.Config
	orchestrator *scraper.Orchestrator
	reconciler   *services.Reconciler
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}
}

func New(cfg *config.Config, orchestrator *scraper.Orchestrator, reconciler *services.Reconciler) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		reconciler:   reconciler,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
			s.runPipeline(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.runPipeline(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Println("No schedule configured, daemon idle until signaled")
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}

// TriggerNow runs one pipeline pass outside the schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.runPipeline(ctx)
}

// runPipeline scrapes first so reconciliation has today's snapshot to diff
// against.
func (s *Scheduler) runPipeline(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from pipeline panic: %v", r)
		}
	}()

	summary := s.orchestrator.RunAll(ctx, scraper.RunFilters{})
	for _, pair := range summary.Failed {
		log.Printf("Scheduled run failure %s: %s", summary.Key(pair.Source, pair.Query), pair.Error)
	}

	s.orchestrator.ReconcileAll(ctx, s.reconciler)
}
