// Package trigger starts pipeline runs automatically on a cron schedule.
//
// The run queue is read from a JSON file at trigger time, so operators
// can refill it between runs without restarting the daemon.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postflow/internal/pipeline"
	logx "postflow/pkg/logx"
)

type Config struct {
	Enabled         bool
	Spec            string // cron expression or "@every 6h"
	QueueFile       string
	CheckDuplicates bool
	Timezone        string // IANA TZ; empty means local
}

// Starter launches one pipeline run. It returns pipeline.ErrRunInProgress
// when a run is still active; the trigger logs and skips that fire.
type Starter func(ctx context.Context, queue []pipeline.QueueItem, checkDuplicates bool) error

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	start  Starter
	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, start Starter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		start:  start,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return nil
	}
	if s.c != nil {
		return nil
	}
	if s.cfg.Spec == "" {
		return fmt.Errorf("trigger: spec is required when enabled")
	}
	if s.cfg.QueueFile == "" {
		return fmt.Errorf("trigger: queue_file is required when enabled")
	}

	loc := time.Local
	if s.cfg.Timezone != "" {
		l, err := time.LoadLocation(s.cfg.Timezone)
		if err != nil {
			return fmt.Errorf("trigger: invalid timezone %q: %w", s.cfg.Timezone, err)
		}
		loc = l
	}

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := s.c.AddFunc(s.cfg.Spec, func() { s.fire(ctx) }); err != nil {
		s.c = nil
		return fmt.Errorf("trigger: invalid spec %q: %w", s.cfg.Spec, err)
	}
	s.c.Start()
	s.log.Info("trigger started", logx.String("spec", s.cfg.Spec), logx.String("queue_file", s.cfg.QueueFile))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

func (s *Service) fire(ctx context.Context) {
	queue, err := LoadQueueFile(s.cfg.QueueFile)
	if err != nil {
		s.log.Error("trigger queue load failed", logx.String("path", s.cfg.QueueFile), logx.Err(err))
		return
	}
	if len(queue) == 0 {
		s.log.Info("trigger fired with empty queue, skipping")
		return
	}
	if err := s.start(ctx, queue, s.cfg.CheckDuplicates); err != nil {
		if err == pipeline.ErrRunInProgress {
			s.log.Warn("trigger skipped, run still in progress")
			return
		}
		s.log.Error("triggered run rejected", logx.Err(err))
	}
}

type queueItemRecord struct {
	ID       string `json:"id"`
	MediaRef string `json:"media_ref"`
	Caption  string `json:"caption,omitempty"`
	PlaceID  string `json:"place_id,omitempty"`
}

// LoadQueueFile reads a JSON array of queue items.
func LoadQueueFile(path string) ([]pipeline.QueueItem, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var recs []queueItemRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	items := make([]pipeline.QueueItem, 0, len(recs))
	for i, r := range recs {
		if r.ID == "" {
			return nil, fmt.Errorf("%s: item %d has no id", path, i)
		}
		items = append(items, pipeline.QueueItem{
			ID:       r.ID,
			MediaRef: r.MediaRef,
			Caption:  r.Caption,
			PlaceID:  r.PlaceID,
		})
	}
	return items, nil
}
