package intake

import (
	"context"

	"go.uber.org/zap"

	"tipRelay/internal/model"
	"tipRelay/internal/queue"
	"tipRelay/internal/storage"
	"tipRelay/internal/validator"
)

// Service is the entry point for tip candidates produced by the event
// ingestion collaborator: it resolves the author config, validates, and hands
// admitted candidates to the batch scheduler. Handle is safe for concurrent
// use; validation of independent events may run in parallel.
type Service struct {
	store     storage.Store
	validator *validator.Validator
	scheduler *queue.Scheduler
	logger    *zap.Logger
}

func NewService(store storage.Store, v *validator.Validator, scheduler *queue.Scheduler, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, validator: v, scheduler: scheduler, logger: logger}
}

// Handle validates one candidate and enqueues it when admitted. Rejections
// are returned as structured outcomes and never as errors.
func (s *Service) Handle(ctx context.Context, candidate model.TipCandidate) validator.Outcome {
	if err := candidate.CheckInvariants(); err != nil {
		s.logger.Info("candidate rejected",
			zap.String("event", candidate.SourceEventID),
			zap.String("reason", string(validator.ReasonMalformed)),
			zap.Error(err),
		)
		return validator.Outcome{Reason: validator.ReasonMalformed}
	}

	var cfg *model.AuthorConfig
	loaded, ok, err := s.store.AuthorConfig(ctx, candidate.Payer)
	if err != nil {
		s.logger.Warn("author config read failed",
			zap.String("payer", candidate.Payer.Hex()),
			zap.Error(err),
		)
	} else if ok {
		cfg = loaded
	}

	outcome := s.validator.Validate(ctx, candidate, cfg)
	if !outcome.Valid {
		s.logger.Info("candidate rejected",
			zap.String("event", candidate.SourceEventID),
			zap.String("payer", candidate.Payer.Hex()),
			zap.String("reason", string(outcome.Reason)),
		)
		return outcome
	}

	s.scheduler.Submit(outcome.Candidate)
	s.logger.Debug("candidate enqueued",
		zap.String("event", candidate.SourceEventID),
		zap.String("payer", candidate.Payer.Hex()),
		zap.String("amount", outcome.Candidate.Amount.String()),
	)
	return outcome
}
