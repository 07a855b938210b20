package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/domain"
)

// Query generation bounds of the gathering stage.
const (
	minQueries = 1
	maxQueries = 5
)

// probabilitySumTolerance is how far the differential's probability mass may
// drift from 1.0 before a warning is logged. Drift is never fatal.
const probabilitySumTolerance = 0.3

type searchQuery struct {
	Query string `json:"query"`
}

type queryPlan struct {
	Queries []searchQuery `json:"queries"`
}

type questionList struct {
	Questions []domain.Question `json:"questions"`
}

// runAssessment structures the raw complaint into domain.Assessment.
func (e *Engine) runAssessment(ctx context.Context, st *domain.PipelineState) error {
	if strings.TrimSpace(st.UserInput) == "" {
		return fmt.Errorf("%w: user input is empty", domain.ErrStateInvariant)
	}

	payload, err := marshalPayload(map[string]any{
		"user_query":      st.UserInput,
		"patient_context": st.PatientContext,
	})
	if err != nil {
		return err
	}

	var out domain.Assessment
	if err := e.generator.Generate(ctx, string(domain.StageInitialAssessment), assessmentInstruction, payload, &out); err != nil {
		return err
	}
	if err := out.Validate(); err != nil {
		return err
	}

	st.Assessment = out
	st.CurrentStage = domain.StageInformationGathering
	return nil
}

// runGathering formulates search queries from the assessment and retrieves
// supporting chunks for each of them concurrently. Retrieval failures for
// individual queries are tolerated: the stage degrades to whatever evidence
// the remaining queries produced, down to none at all.
func (e *Engine) runGathering(ctx context.Context, st *domain.PipelineState) error {
	if st.Assessment.IsZero() {
		return fmt.Errorf("%w: gathering requires a populated assessment", domain.ErrStateInvariant)
	}

	payload, err := marshalPayload(st.Assessment)
	if err != nil {
		return err
	}

	var plan queryPlan
	if err := e.generator.Generate(ctx, string(domain.StageInformationGathering), queryInstruction, payload, &plan); err != nil {
		return err
	}

	queries := make([]string, 0, len(plan.Queries))
	for _, q := range plan.Queries {
		if text := strings.TrimSpace(q.Query); text != "" {
			queries = append(queries, text)
		}
	}
	if len(queries) < minQueries {
		return fmt.Errorf("%w: query plan is empty", domain.ErrMalformedOutput)
	}
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}

	chunks := e.searchAll(ctx, queries)

	st.RetrievedChunks = chunks
	st.Sources = sourceIDs(chunks)
	if len(chunks) == 0 {
		e.logger.Warn("No relevant chunks retrieved, continuing without corpus grounding",
			zap.Int("queries", len(queries)))
	}

	st.CurrentStage = domain.StageHypothesisGeneration
	return nil
}

// searchAll runs every query against the retriever in parallel and merges
// the hits. Duplicate chunks reached through different queries are collapsed
// keeping the best score; the merged set is re-ranked with the retriever's
// ordering so the result does not depend on goroutine scheduling.
func (e *Engine) searchAll(ctx context.Context, queries []string) []domain.RetrievedChunk {
	results := make([][]domain.RetrievedChunk, len(queries))

	var wg sync.WaitGroup
	for i, query := range queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			hits, err := e.retriever.Search(ctx, query, e.topK)
			if err != nil {
				e.logger.Warn("Retrieval query failed, skipping",
					zap.String("query", query), zap.Error(err))
				return
			}
			results[i] = hits
		}(i, query)
	}
	wg.Wait()

	type chunkKey struct {
		sourceID   string
		chunkIndex int
	}
	best := make(map[chunkKey]domain.RetrievedChunk)
	for _, hits := range results {
		for _, hit := range hits {
			key := chunkKey{hit.SourceID, hit.ChunkIndex}
			if prev, ok := best[key]; !ok || hit.Score > prev.Score {
				best[key] = hit
			}
		}
	}

	merged := make([]domain.RetrievedChunk, 0, len(best))
	for _, hit := range best {
		merged = append(merged, hit)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if merged[i].SourceID != merged[j].SourceID {
			return merged[i].SourceID < merged[j].SourceID
		}
		return merged[i].ChunkIndex < merged[j].ChunkIndex
	})
	return merged
}

// runHypotheses produces the initial differential from the assessment and
// the retrieved evidence.
func (e *Engine) runHypotheses(ctx context.Context, st *domain.PipelineState) error {
	if st.Assessment.IsZero() {
		return fmt.Errorf("%w: hypothesis generation requires a populated assessment", domain.ErrStateInvariant)
	}

	payload, err := marshalPayload(map[string]any{
		"assessment":        st.Assessment,
		"retrieved_context": chunkContext(st.RetrievedChunks),
	})
	if err != nil {
		return err
	}

	var out domain.Differential
	if err := e.generator.Generate(ctx, string(domain.StageHypothesisGeneration), hypothesisInstruction, payload, &out); err != nil {
		return err
	}
	if err := out.Validate(); err != nil {
		return err
	}
	out.Sort()
	e.warnProbabilityDrift(domain.StageHypothesisGeneration, out)

	st.Differential = out
	st.CurrentStage = domain.StageClarifyingQuestions
	return nil
}

// runQuestions generates 1-3 clarifying questions and suspends the run at
// the answer-collection point.
func (e *Engine) runQuestions(ctx context.Context, st *domain.PipelineState) error {
	if len(st.Differential.Hypotheses) == 0 {
		return fmt.Errorf("%w: clarifying questions require a differential", domain.ErrStateInvariant)
	}

	payload, err := marshalPayload(map[string]any{
		"assessment":   st.Assessment,
		"differential": st.Differential,
	})
	if err != nil {
		return err
	}

	var out questionList
	if err := e.generator.Generate(ctx, string(domain.StageClarifyingQuestions), questionInstruction, payload, &out); err != nil {
		return err
	}
	if err := domain.ValidateQuestions(out.Questions); err != nil {
		return err
	}

	st.Questions = out.Questions
	st.CurrentStage = domain.StageAwaitingAnswers
	return nil
}

// runRefinement overwrites the differential with a version re-weighted by
// the patient's answers. This is the single point where the differential is
// replaced rather than appended to.
func (e *Engine) runRefinement(ctx context.Context, st *domain.PipelineState) error {
	if len(st.Differential.Hypotheses) == 0 {
		return fmt.Errorf("%w: refinement requires a differential", domain.ErrStateInvariant)
	}
	if len(st.Questions) > 0 && len(st.Answers) == 0 {
		return fmt.Errorf("%w: refinement requires answers to the clarifying questions", domain.ErrStateInvariant)
	}

	payload, err := marshalPayload(map[string]any{
		"assessment":   st.Assessment,
		"differential": st.Differential,
		"questions":    st.Questions,
		"answers":      st.Answers,
	})
	if err != nil {
		return err
	}

	var out domain.Differential
	if err := e.generator.Generate(ctx, string(domain.StageHypothesisRefinement), refinementInstruction, payload, &out); err != nil {
		return err
	}
	if err := out.Validate(); err != nil {
		return err
	}
	out.Sort()
	e.warnProbabilityDrift(domain.StageHypothesisRefinement, out)

	st.Differential = out
	st.CurrentStage = domain.StageFinalDiagnosis
	return nil
}

// runFinal produces the final diagnosis. Confidence is clamped into [0, 1]
// after structural validation, so a slightly out-of-range model value does
// not fail a run that is otherwise sound.
func (e *Engine) runFinal(ctx context.Context, st *domain.PipelineState) error {
	if len(st.Differential.Hypotheses) == 0 {
		return fmt.Errorf("%w: final diagnosis requires a differential", domain.ErrStateInvariant)
	}

	payload, err := marshalPayload(map[string]any{
		"assessment":   st.Assessment,
		"differential": st.Differential,
		"questions":    st.Questions,
		"answers":      st.Answers,
	})
	if err != nil {
		return err
	}

	var out domain.FinalDiagnosis
	if err := e.generator.Generate(ctx, string(domain.StageFinalDiagnosis), finalInstruction, payload, &out); err != nil {
		return err
	}
	if err := out.Validate(); err != nil {
		return err
	}
	out.Confidence = domain.ClampConfidence(out.Confidence)

	st.FinalResult = out
	st.Confidence = out.Confidence
	st.CurrentStage = domain.StageTreatmentPlan
	return nil
}

// runTreatment generates general, non-prescriptive suggestions for the
// primary diagnosis and completes the run.
func (e *Engine) runTreatment(ctx context.Context, st *domain.PipelineState) error {
	if strings.TrimSpace(st.FinalResult.PrimaryDiagnosis) == "" {
		return fmt.Errorf("%w: treatment plan requires a final diagnosis", domain.ErrStateInvariant)
	}

	payload, err := marshalPayload(map[string]any{
		"diagnosis":         st.FinalResult,
		"retrieved_context": chunkContext(st.RetrievedChunks),
	})
	if err != nil {
		return err
	}

	var out domain.TreatmentPlan
	if err := e.generator.Generate(ctx, string(domain.StageTreatmentPlan), treatmentInstruction, payload, &out); err != nil {
		return err
	}
	if err := out.Validate(); err != nil {
		return err
	}
	if out.Condition == "" {
		out.Condition = st.FinalResult.PrimaryDiagnosis
	}

	st.Treatment = out
	st.CurrentStage = domain.StageComplete
	return nil
}

func (e *Engine) warnProbabilityDrift(stage domain.Stage, d domain.Differential) {
	sum := d.ProbabilitySum()
	if math.Abs(sum-1.0) > probabilitySumTolerance {
		e.logger.Warn("Differential probability mass drifts from 1.0",
			zap.String("stage", string(stage)),
			zap.Float64("sum", sum))
	}
}

// marshalPayload serializes a stage payload for prompt embedding.
func marshalPayload(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshal stage payload: %v", domain.ErrStateInvariant, err)
	}
	return string(data), nil
}

// chunkContext flattens retrieved chunks into a citable context block.
func chunkContext(chunks []domain.RetrievedChunk) []map[string]any {
	ctx := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		ctx = append(ctx, map[string]any{
			"source":      c.SourceID,
			"chunk_index": c.ChunkIndex,
			"text":        c.Text,
		})
	}
	return ctx
}

// sourceIDs returns the distinct source documents cited by the chunks, in
// first-seen order.
func sourceIDs(chunks []domain.RetrievedChunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	var ids []string
	for _, c := range chunks {
		if _, ok := seen[c.SourceID]; ok {
			continue
		}
		seen[c.SourceID] = struct{}{}
		ids = append(ids, c.SourceID)
	}
	return ids
}
