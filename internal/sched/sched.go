package sched

import (
	"context"
	"log"
	"sync"

	rcron "github.com/robfig/cron/v3"

	"github.com/beyondworks/assistant/internal/bus"
	"github.com/beyondworks/assistant/internal/config"
)

// RunFunc executes one scheduled domain mode and returns the text to
// deliver.
type RunFunc func(ctx context.Context, domain, mode string) (string, error)

// Service fires configured jobs on their cron expressions and pushes
// non-empty results to the message bus.
type Service struct {
	jobs []config.JobConfig
	run  RunFunc
	bus  *bus.MessageBus

	mu      sync.Mutex
	cron    *rcron.Cron
	entries map[string]rcron.EntryID
}

func New(jobs []config.JobConfig, run RunFunc, b *bus.MessageBus) *Service {
	return &Service{
		jobs:    jobs,
		run:     run,
		bus:     b,
		entries: make(map[string]rcron.EntryID),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron = rcron.New(rcron.WithSeconds())

	registered := 0
	for _, job := range s.jobs {
		jobCopy := job
		id, err := s.cron.AddFunc(job.Cron, func() {
			s.executeJob(ctx, jobCopy)
		})
		if err != nil {
			log.Printf("[sched] failed to register job %s (%s): %v", job.Name, job.Cron, err)
			continue
		}
		s.entries[job.Name] = id
		registered++
	}

	s.cron.Start()
	log.Printf("[sched] started with %d jobs", registered)
	return nil
}

func (s *Service) executeJob(ctx context.Context, job config.JobConfig) {
	log.Printf("[sched] executing job %s (%s/%s)", job.Name, job.Domain, job.Mode)

	result, err := s.run(ctx, job.Domain, job.Mode)
	if err != nil {
		log.Printf("[sched] job %s error: %v", job.Name, err)
		return
	}
	if result == "" {
		log.Printf("[sched] job %s produced no output", job.Name)
		return
	}

	if job.Channel != "" && job.ChatID != "" {
		s.bus.Outbound <- bus.OutboundMessage{
			Channel: job.Channel,
			ChatID:  job.ChatID,
			Content: result,
		}
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
	}
	log.Printf("[sched] stopped")
}

// JobCount reports how many jobs registered successfully.
func (s *Service) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
