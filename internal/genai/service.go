package genai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/inkwell-ai/fabler/internal/logging"
	"github.com/inkwell-ai/fabler/internal/quality"
	"github.com/inkwell-ai/fabler/pkg/schema"
)

// Operation names used for circuit breaker isolation.
const (
	opOutline = "outline"
	opDraft   = "draft"
	opRevise  = "revise"
	opScore   = "score"
)

// Service exposes the model to the pipeline: it drafts, outlines, revises and
// scores stories. It satisfies the engine's Generator, the enhancement loop's
// Reviser and the quality assessor's Scorer.
type Service struct {
	model    Model
	parser   *Parser
	breakers *BreakerRegistry
	logger   *slog.Logger
}

// NewService wires a Service over the given model. breakers may be nil to
// disable circuit protection.
func NewService(model Model, breakers *BreakerRegistry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		model:    model,
		parser:   NewParser(),
		breakers: breakers,
		logger:   logger,
	}
}

// Outline asks the model for a structural outline.
func (s *Service) Outline(ctx context.Context, req *schema.Requirements, strat schema.GenerationStrategy) (string, error) {
	raw, err := s.complete(ctx, opOutline, writerSystemPrompt, OutlinePrompt(req))
	if err != nil {
		return "", schema.NewError(schema.ErrCodeGeneration, "outline generation failed").WithCause(err)
	}
	return s.parser.ExtractOutline(raw)
}

// Draft asks the model for a first draft, following the outline when present.
func (s *Service) Draft(ctx context.Context, req *schema.Requirements, strat schema.GenerationStrategy, outline string) (string, string, error) {
	raw, err := s.complete(ctx, opDraft, writerSystemPrompt, DraftPrompt(req, strat, outline))
	if err != nil {
		return "", "", schema.NewError(schema.ErrCodeGeneration, "draft generation failed").WithCause(err)
	}
	title, content, err := s.parser.ExtractDraft(raw)
	if err != nil {
		return "", "", err
	}
	logging.LogWith(ctx, s.logger).InfoContext(ctx, "draft produced",
		slog.String("title", title),
		slog.Int("words", wordCount(content)))
	return content, title, nil
}

// Revise asks the model to rework the story per the enhancement instruction.
func (s *Service) Revise(ctx context.Context, content, title, instruction string, req *schema.Requirements) (string, string, error) {
	raw, err := s.complete(ctx, opRevise, writerSystemPrompt, RevisionPrompt(content, title, instruction, req))
	if err != nil {
		return "", "", schema.NewError(schema.ErrCodeEnhancement, "revision failed").WithCause(err)
	}
	newTitle, newContent, err := s.parser.ExtractDraft(raw)
	if err != nil {
		return "", "", err
	}
	return newContent, newTitle, nil
}

// ScoreDimensions asks the model to score the story on the given dimensions.
func (s *Service) ScoreDimensions(ctx context.Context, content string, req *schema.Requirements, dims []quality.Dimension) (map[quality.Dimension]float64, error) {
	raw, err := s.complete(ctx, opScore, criticSystemPrompt, ScorePrompt(content, req, dims))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeAssessment, "scoring failed").WithCause(err)
	}
	return s.parser.ExtractScores(raw, dims)
}

// complete runs one model call through the operation's circuit breaker.
func (s *Service) complete(ctx context.Context, op, system, user string) (string, error) {
	if s.breakers != nil {
		if err := s.breakers.Allow(op); err != nil {
			return "", err
		}
	}

	out, err := s.model.Complete(ctx, system, user)
	if s.breakers != nil {
		if err != nil {
			if state := s.breakers.RecordFailure(op); state == BreakerOpen {
				s.logger.WarnContext(ctx, "circuit opened for model operation", slog.String("operation", op))
			}
		} else {
			s.breakers.RecordSuccess(op)
		}
	}
	return out, err
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
