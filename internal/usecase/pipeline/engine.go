// Package pipeline drives one diagnosis run through its seven stages over a
// single shared state record.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/domain"
	"github.com/kailas-cloud/diagflow/internal/metrics"
)

// Options tunes engine behavior.
type Options struct {
	// TopK is how many chunks each retrieval query requests.
	TopK int

	// StageTimeout bounds a single stage, including generation retries.
	// Zero disables the per-stage deadline.
	StageTimeout time.Duration

	// AnswerFn, when set, answers clarifying questions in-process so the
	// run never suspends. When nil, Run returns the state suspended at
	// awaiting_answers and the caller continues it with Resume.
	AnswerFn AnswerFunc
}

// Engine executes the diagnosis pipeline. The engine owns the state for the
// duration of Run or Resume; stages mutate it in place and advance
// CurrentStage, and any stage error folds the state into its terminal
// "System Error" form instead of surfacing a raw fault.
type Engine struct {
	generator    Generator
	retriever    Retriever
	topK         int
	stageTimeout time.Duration
	answerFn     AnswerFunc
	logger       *zap.Logger

	stages map[domain.Stage]func(context.Context, *domain.PipelineState) error
}

// New creates a pipeline engine.
func New(generator Generator, retriever Retriever, opts Options, logger *zap.Logger) *Engine {
	if opts.TopK < 1 {
		opts.TopK = 3
	}

	e := &Engine{
		generator:    generator,
		retriever:    retriever,
		topK:         opts.TopK,
		stageTimeout: opts.StageTimeout,
		answerFn:     opts.AnswerFn,
		logger:       logger,
	}
	e.stages = map[domain.Stage]func(context.Context, *domain.PipelineState) error{
		domain.StageInitialAssessment:    e.runAssessment,
		domain.StageInformationGathering: e.runGathering,
		domain.StageHypothesisGeneration: e.runHypotheses,
		domain.StageClarifyingQuestions:  e.runQuestions,
		domain.StageHypothesisRefinement: e.runRefinement,
		domain.StageFinalDiagnosis:       e.runFinal,
		domain.StageTreatmentPlan:        e.runTreatment,
	}
	return e
}

// Run executes a fresh diagnosis for userInput. The returned state is always
// well formed: complete, suspended at awaiting_answers, or failed with the
// terminal "System Error" result. The error return mirrors the failure that
// was folded into the state, for callers that log or classify it.
func (e *Engine) Run(ctx context.Context, userInput string, patientContext map[string]string) (*domain.PipelineState, error) {
	st := domain.NewPipelineState(userInput, patientContext)
	return e.advance(ctx, st)
}

// Resume continues a run suspended at the answer-collection point. Only a
// state whose CurrentStage is awaiting_answers is resumable; anything else
// is rejected with domain.ErrRunNotResumable without mutating the state.
func (e *Engine) Resume(ctx context.Context, st *domain.PipelineState, answers map[string]string) (*domain.PipelineState, error) {
	if st.CurrentStage != domain.StageAwaitingAnswers {
		return st, fmt.Errorf("%w: run is at stage %q", domain.ErrRunNotResumable, st.CurrentStage)
	}
	if len(answers) == 0 {
		return st, fmt.Errorf("%w: no answers provided", domain.ErrRunNotResumable)
	}

	st.Answers = answers
	st.CurrentStage = domain.StageHypothesisRefinement
	return e.advance(ctx, st)
}

// advance steps the state forward until a terminal stage or a suspension.
func (e *Engine) advance(ctx context.Context, st *domain.PipelineState) (*domain.PipelineState, error) {
	for !st.CurrentStage.Terminal() {
		if st.CurrentStage == domain.StageAwaitingAnswers {
			if e.answerFn == nil {
				metrics.PipelineRunsTotal.WithLabelValues("suspended").Inc()
				e.logger.Info("Run suspended awaiting answers",
					zap.Int("questions", len(st.Questions)))
				return st, nil
			}
			answers, err := e.answerFn(ctx, st.Questions)
			if err != nil {
				return e.fail(st, domain.StageAwaitingAnswers, fmt.Errorf("collect answers: %w", err))
			}
			st.Answers = answers
			st.CurrentStage = domain.StageHypothesisRefinement
			continue
		}

		stage := st.CurrentStage
		run, ok := e.stages[stage]
		if !ok {
			return e.fail(st, stage, fmt.Errorf("%w: unknown stage %q", domain.ErrStateInvariant, stage))
		}

		if err := e.runStage(ctx, stage, run, st); err != nil {
			return e.fail(st, stage, err)
		}
	}

	if st.CurrentStage == domain.StageComplete {
		metrics.PipelineRunsTotal.WithLabelValues("complete").Inc()
		e.logger.Info("Run complete",
			zap.String("diagnosis", st.FinalResult.PrimaryDiagnosis),
			zap.Float64("confidence", st.Confidence))
	}
	return st, nil
}

// runStage executes one stage under the configured deadline and records its
// duration.
func (e *Engine) runStage(ctx context.Context, stage domain.Stage, run func(context.Context, *domain.PipelineState) error, st *domain.PipelineState) error {
	stageCtx := ctx
	if e.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, e.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	err := run(stageCtx, st)
	metrics.PipelineStageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("stage %s: %w", stage, err)
	}

	e.logger.Debug("Stage complete",
		zap.String("stage", string(stage)),
		zap.String("next", string(st.CurrentStage)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// fail folds err into the state's terminal error form and returns both.
func (e *Engine) fail(st *domain.PipelineState, stage domain.Stage, err error) (*domain.PipelineState, error) {
	st.Fail(err)
	metrics.PipelineRunsTotal.WithLabelValues("failed").Inc()
	e.logger.Error("Run failed",
		zap.String("stage", string(stage)),
		zap.Error(err))
	return st, err
}
