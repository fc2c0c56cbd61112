package janitor

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/quillchat/quill/internal/config"
	"github.com/quillchat/quill/internal/message"
	"github.com/quillchat/quill/internal/websearch"
)

// Service runs periodic cleanup: messages stuck in processing are flipped
// to error, and stale web search snapshots are purged.
type Service struct {
	cfg      config.JanitorConfig
	messages *message.Service
	search   *websearch.Service
	cron     *cron.Cron
	logger   *slog.Logger
}

func NewService(log *slog.Logger, cfg config.JanitorConfig, messages *message.Service, search *websearch.Service) *Service {
	return &Service{
		cfg:      cfg,
		messages: messages,
		search:   search,
		cron:     cron.New(cron.WithSeconds()),
		logger:   log.With(slog.String("service", "janitor")),
	}
}

func (s *Service) Start() error {
	spec := s.cfg.Spec
	if spec == "" {
		spec = config.DefaultJanitorSpec
	}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("janitor started", slog.String("spec", spec))
	return nil
}

func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) sweep() {
	ctx := context.Background()

	expired, err := s.messages.ExpireStuck(ctx, s.cfg.StuckAfterMinutes)
	if err != nil {
		s.logger.Warn("expire stuck messages failed", slog.String("error", err.Error()))
	} else if expired > 0 {
		s.logger.Info("expired stuck messages", slog.Int64("count", expired))
	}

	purged, err := s.search.PurgeOld(ctx, s.cfg.SearchRetentionDays)
	if err != nil {
		s.logger.Warn("purge search results failed", slog.String("error", err.Error()))
	} else if purged > 0 {
		s.logger.Info("purged stale search results", slog.Int64("count", purged))
	}
}
