// Package notify sends one-way operator alerts over Telegram when a
// pipeline run finishes or the publishing credentials expire.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"postflow/internal/eventbus"
	"postflow/internal/pipeline"
	logx "postflow/pkg/logx"
)

type Config struct {
	Enabled bool
	Token   string
	ChatID  int64
}

type Service struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	bot     *tele.Bot
	queue   chan string
	cancel  context.CancelFunc
	unsub   func()
	wg      sync.WaitGroup
	started bool
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		queue: make(chan string, 64),
	}
}

// Start connects the bot and subscribes to pipeline events on the bus.
// A disabled or tokenless notifier is a silent no-op.
func (s *Service) Start(ctx context.Context, bus eventbus.Bus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if !s.cfg.Enabled || s.cfg.Token == "" || s.cfg.ChatID == 0 {
		return nil
	}

	bot, err := tele.NewBot(tele.Settings{Token: s.cfg.Token})
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	s.bot = bot
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	events, unsub := bus.Subscribe(32)
	s.unsub = unsub

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.sendWorker(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.eventWorker(runCtx, events)
	}()

	s.log.Info("notifier started", logx.Int64("chat_id", s.cfg.ChatID))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	unsub := s.unsub
	s.cancel = nil
	s.unsub = nil
	s.started = false
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Notify enqueues a message. It never blocks core processing; when the
// queue is full the message is dropped.
func (s *Service) Notify(text string) {
	select {
	case s.queue <- text:
	default:
	}
}

func (s *Service) eventWorker(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case eventbus.TypeRunState:
				st, ok := e.Data.(pipeline.RunState)
				if ok && st == pipeline.StateCompleted {
					s.Notify(fmt.Sprintf("run %s finished at %s", e.RunID, e.Time.Format(time.RFC3339)))
				}
			case eventbus.TypeAuthFailure:
				s.Notify("🚨 publishing credentials expired, run aborted. Re-authentication required.")
			}
		}
	}
}

func (s *Service) sendWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			s.mu.Lock()
			bot := s.bot
			chatID := s.cfg.ChatID
			s.mu.Unlock()
			if bot == nil {
				continue
			}
			if _, err := bot.Send(&tele.Chat{ID: chatID}, msg); err != nil {
				s.log.Warn("operator alert send failed", logx.Err(err))
			}
		}
	}
}
