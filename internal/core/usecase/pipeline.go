package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
	"github.com/kirillkom/catalog-assistant/internal/core/ports"
)

const (
	DefaultTopK = 5
	MaxTopK     = 24
)

type PipelineConfig struct {
	TopK             int
	ContextMaxChars  int
	Subject          string
	EmbedTimeout     time.Duration
	RetrievalTimeout time.Duration
}

// QueryPipeline runs one question through embed, filter, retrieve, assemble and
// synthesize. It never returns an error: every failure becomes a fallback turn.
type QueryPipeline struct {
	embedder    ports.Embedder
	filters     ports.FilterExtractor
	index       ports.ProductIndex
	synthesizer ports.AnswerSynthesizer
	cfg         PipelineConfig
	logger      *zap.Logger
}

func NewQueryPipeline(
	embedder ports.Embedder,
	filters ports.FilterExtractor,
	index ports.ProductIndex,
	synthesizer ports.AnswerSynthesizer,
	cfg PipelineConfig,
	logger *zap.Logger,
) *QueryPipeline {
	cfg.TopK = clampTopK(cfg.TopK)
	if cfg.ContextMaxChars <= 0 {
		cfg.ContextMaxChars = DefaultContextMaxChars
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 15 * time.Second
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryPipeline{
		embedder:    embedder,
		filters:     filters,
		index:       index,
		synthesizer: synthesizer,
		cfg:         cfg,
		logger:      logger,
	}
}

func clampTopK(topK int) int {
	switch {
	case topK <= 0:
		return DefaultTopK
	case topK > MaxTopK:
		return MaxTopK
	default:
		return topK
	}
}

func (p *QueryPipeline) Run(ctx context.Context, question, previousAnswer string) domain.TurnResult {
	start := time.Now()
	result := domain.TurnResult{Stage: domain.StageReceived, Records: []domain.ProductRecord{}}
	finish := func() domain.TurnResult {
		result.Duration = time.Since(start)
		return result
	}

	p.enter(&result, domain.StageEmbedding)
	if p.filters != nil {
		p.enter(&result, domain.StageFilterExtraction)
	}
	vector, filter, err := p.embedAndExtract(ctx, question)
	if err != nil {
		p.fail(&result, domain.StageEmbedding, err)
		return finish()
	}
	result.Filter = filter

	p.enter(&result, domain.StageRetrieving)
	records, err := p.retrieve(ctx, vector, filter)
	if err != nil {
		p.fail(&result, domain.StageRetrieving, err)
		return finish()
	}
	if len(records) == 0 {
		result.Outcome = domain.OutcomeNoResults
		p.enter(&result, domain.StageCompleted)
		result.Answer = domain.NoResultsMessage(p.cfg.Subject)
		return finish()
	}

	p.enter(&result, domain.StageAssembling)
	contextBlock, rendered := assembleContext(records, p.cfg.ContextMaxChars)
	if rendered < len(records) {
		p.logger.Debug("context_bounded", zap.Int("retrieved", len(records)), zap.Int("rendered", rendered))
	}
	result.Records = records[:rendered]

	p.enter(&result, domain.StageSynthesizing)
	answer, err := p.synthesizer.Synthesize(ctx, question, contextBlock, previousAnswer)
	if err != nil {
		p.fail(&result, domain.StageSynthesizing, err)
		return finish()
	}

	result.Outcome = domain.OutcomeAnswered
	p.enter(&result, domain.StageCompleted)
	result.Answer = answer
	return finish()
}

// embedAndExtract runs embedding and filter extraction concurrently. Only the
// embedding can fail the turn; a missing filter means an unfiltered search.
func (p *QueryPipeline) embedAndExtract(ctx context.Context, question string) ([]float32, *domain.FilterPredicate, error) {
	var (
		vector []float32
		filter *domain.FilterPredicate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		embedCtx, cancel := context.WithTimeout(gctx, p.cfg.EmbedTimeout)
		defer cancel()

		v, err := p.embedder.EmbedQuery(embedCtx, question)
		if err != nil {
			return ensureKind(domain.ErrEmbedding, "embed query", err)
		}
		if len(v) == 0 {
			return domain.WrapError(domain.ErrEmbedding, "embed query", fmt.Errorf("empty vector"))
		}
		vector = v
		return nil
	})
	if p.filters != nil {
		g.Go(func() error {
			filter = p.filters.Extract(gctx, question)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return vector, filter, nil
}

func (p *QueryPipeline) retrieve(ctx context.Context, vector []float32, filter *domain.FilterPredicate) ([]domain.ProductRecord, error) {
	searchCtx, cancel := context.WithTimeout(ctx, p.cfg.RetrievalTimeout)
	defer cancel()

	records, err := p.index.Search(searchCtx, vector, filter, p.cfg.TopK)
	if err != nil {
		return nil, ensureKind(domain.ErrRetrieval, "search products", err)
	}
	if len(records) > p.cfg.TopK {
		records = records[:p.cfg.TopK]
	}
	return records, nil
}

// enter moves the turn to stage. Embedding and filter extraction are entered
// together and run in parallel.
func (p *QueryPipeline) enter(result *domain.TurnResult, stage domain.TurnStage) {
	result.Stage = stage
	p.logger.Debug("turn_stage", zap.String("stage", string(stage)))
}

func (p *QueryPipeline) fail(result *domain.TurnResult, stage domain.TurnStage, err error) {
	result.Outcome = domain.OutcomeFailed
	result.Stage = domain.StageFailed
	result.FailedStage = stage
	result.FailureReason = failureReason(err)
	result.Answer = domain.FallbackMessage
	result.Records = []domain.ProductRecord{}

	fields := []zap.Field{
		zap.String("stage", string(stage)),
		zap.String("reason", result.FailureReason),
		zap.Error(err),
	}
	if domain.IsKind(err, domain.ErrConfiguration) {
		p.logger.Error("turn_failed_misconfigured", fields...)
		return
	}
	p.logger.Warn("turn_failed", fields...)
}

func ensureKind(kind error, operation string, err error) error {
	if domain.IsKind(err, kind) {
		return err
	}
	return domain.WrapError(kind, operation, err)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case domain.IsKind(err, domain.ErrConfiguration):
		return "configuration"
	case domain.IsKind(err, domain.ErrEmbedding):
		return "embedding"
	case domain.IsKind(err, domain.ErrRetrieval):
		return "retrieval"
	case domain.IsKind(err, domain.ErrSynthesis):
		return "synthesis"
	default:
		return "internal"
	}
}

// ApplyTurn records the question and the displayed answer, and remembers the
// answer for the next follow-up.
func ApplyTurn(state *domain.ConversationState, question string, result domain.TurnResult) {
	state.RecordTurn(domain.RoleUser, question)
	state.RecordTurn(domain.RoleAssistant, result.Answer)
	state.SetPreviousAnswer(result.Answer)
}
