package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/domain"
	healthuc "github.com/kailas-cloud/diagflow/internal/usecase/health"
	"github.com/kailas-cloud/diagflow/internal/usecase/pipeline"
)

// --- Mocks ---

// scriptGenerator answers every stage with a canned JSON document.
type scriptGenerator struct {
	responses map[string]string
}

func (g *scriptGenerator) Generate(_ context.Context, stage, _, _ string, out any) error {
	resp, ok := g.responses[stage]
	if !ok {
		return errors.New("no scripted response for stage " + stage)
	}
	return json.Unmarshal([]byte(resp), out)
}

type stubRetriever struct {
	hits []domain.RetrievedChunk
}

func (r *stubRetriever) Search(_ context.Context, _ string, _ int) ([]domain.RetrievedChunk, error) {
	return r.hits, nil
}

type stubStatus struct {
	ready error
	count int
}

func (s *stubStatus) Ready() error    { return s.ready }
func (s *stubStatus) ChunkCount() int { return s.count }

type stubIndexCheck struct {
	err error
}

func (s *stubIndexCheck) Ready() error { return s.err }

func scriptedResponses() map[string]string {
	return map[string]string{
		string(domain.StageInitialAssessment): `{
			"main_symptoms": ["headache"],
			"secondary_symptoms": [],
			"initial_summary": "Recurring headaches."
		}`,
		string(domain.StageInformationGathering): `{
			"queries": [{"query": "headache causes"}]
		}`,
		string(domain.StageHypothesisGeneration): `{
			"hypotheses": [
				{"condition": "Migraine", "probability": 0.6, "reasoning": "fits"},
				{"condition": "Tension headache", "probability": 0.4, "reasoning": "possible"}
			]
		}`,
		string(domain.StageClarifyingQuestions): `{
			"questions": [{"question": "Is it one-sided?", "reasoning": "differentiator"}]
		}`,
		string(domain.StageHypothesisRefinement): `{
			"hypotheses": [
				{"condition": "Migraine", "probability": 0.8, "reasoning": "confirmed"},
				{"condition": "Tension headache", "probability": 0.2, "reasoning": "less likely"}
			]
		}`,
		string(domain.StageFinalDiagnosis): `{
			"primary_diagnosis": "Migraine",
			"confidence_score": 0.8,
			"final_summary": "s",
			"next_steps": ["see a doctor"],
			"disclaimer": "d"
		}`,
		string(domain.StageTreatmentPlan): `{
			"condition": "Migraine",
			"suggestions": [{"suggestion": "rest", "category": "home care"}],
			"important_note": "n"
		}`,
	}
}

func newTestRouter(t *testing.T, answerFn pipeline.AnswerFunc, status StatusReader) http.Handler {
	t.Helper()

	engine := pipeline.New(
		&scriptGenerator{responses: scriptedResponses()},
		&stubRetriever{hits: []domain.RetrievedChunk{
			{Text: "migraine info", SourceID: "migraine.md", ChunkIndex: 0, Score: 0.9},
		}},
		pipeline.Options{TopK: 3, AnswerFn: answerFn},
		zap.NewNop(),
	)

	var indexErr error
	if status.Ready() != nil {
		indexErr = status.Ready()
	}
	health := healthuc.New(&stubIndexCheck{err: indexErr}, nil, nil, nil)

	server := NewServer(engine, status, health, zap.NewNop())
	r := chirouter.NewRouter()
	server.Routes(r)
	return r
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// --- Tests ---

func TestCreateDiagnosis_Completes(t *testing.T) {
	h := newTestRouter(t, pipeline.SimulatedAnswers, &stubStatus{count: 10})

	rr := postJSON(t, h, "/api/v1/diagnoses", DiagnosisRequest{Query: "I have headaches"})
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp DiagnosisResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "complete" {
		t.Errorf("expected complete, got %q", resp.Status)
	}
	if resp.State.FinalResult.PrimaryDiagnosis != "Migraine" {
		t.Errorf("expected Migraine, got %q", resp.State.FinalResult.PrimaryDiagnosis)
	}
	if len(resp.State.Sources) != 1 || resp.State.Sources[0] != "migraine.md" {
		t.Errorf("expected cited source, got %v", resp.State.Sources)
	}
}

func TestCreateDiagnosis_EmptyQuery(t *testing.T) {
	h := newTestRouter(t, pipeline.SimulatedAnswers, &stubStatus{})

	rr := postJSON(t, h, "/api/v1/diagnoses", DiagnosisRequest{Query: "  "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusBadRequest)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != codeValidationFailed {
		t.Errorf("expected %s, got %s", codeValidationFailed, errResp.Code)
	}
}

func TestCreateDiagnosis_InvalidBody(t *testing.T) {
	h := newTestRouter(t, pipeline.SimulatedAnswers, &stubStatus{})

	req := httptest.NewRequest("POST", "/api/v1/diagnoses", bytes.NewReader([]byte("{not json")))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestDiagnosisSuspendAndResume(t *testing.T) {
	h := newTestRouter(t, nil, &stubStatus{})

	rr := postJSON(t, h, "/api/v1/diagnoses", DiagnosisRequest{Query: "I have headaches"})
	if rr.Code != http.StatusOK {
		t.Fatalf("run: got %d: %s", rr.Code, rr.Body.String())
	}

	var suspended DiagnosisResponse
	if err := json.NewDecoder(rr.Body).Decode(&suspended); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if suspended.Status != "awaiting_answers" {
		t.Fatalf("expected awaiting_answers, got %q", suspended.Status)
	}
	if len(suspended.State.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(suspended.State.Questions))
	}

	rr = postJSON(t, h, "/api/v1/diagnoses/resume", ResumeRequest{
		State:   suspended.State,
		Answers: map[string]string{suspended.State.Questions[0].Question: "Yes"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("resume: got %d: %s", rr.Code, rr.Body.String())
	}

	var final DiagnosisResponse
	if err := json.NewDecoder(rr.Body).Decode(&final); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if final.Status != "complete" {
		t.Errorf("expected complete, got %q (state error %q)", final.Status, final.State.Error)
	}
}

func TestResumeDiagnosis_NotResumable(t *testing.T) {
	h := newTestRouter(t, nil, &stubStatus{})

	st := domain.NewPipelineState("headache", nil)
	rr := postJSON(t, h, "/api/v1/diagnoses/resume", ResumeRequest{
		State:   st,
		Answers: map[string]string{"q": "a"},
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("got %d, want %d: %s", rr.Code, http.StatusConflict, rr.Body.String())
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != codeRunNotResumable {
		t.Errorf("expected %s, got %s", codeRunNotResumable, errResp.Code)
	}
}

func TestResumeDiagnosis_MissingFields(t *testing.T) {
	h := newTestRouter(t, nil, &stubStatus{})

	rr := postJSON(t, h, "/api/v1/diagnoses/resume", ResumeRequest{Answers: map[string]string{"q": "a"}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing state: got %d, want %d", rr.Code, http.StatusBadRequest)
	}

	st := domain.NewPipelineState("headache", nil)
	st.CurrentStage = domain.StageAwaitingAnswers
	rr = postJSON(t, h, "/api/v1/diagnoses/resume", ResumeRequest{State: st})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing answers: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestStatus(t *testing.T) {
	h := newTestRouter(t, nil, &stubStatus{count: 42})

	req := httptest.NewRequest("GET", "/api/v1/status", http.NoBody)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusOK)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IndexReady || resp.ChunkCount != 42 {
		t.Errorf("unexpected status: %+v", resp)
	}
}

func TestStatus_IndexMissing(t *testing.T) {
	h := newTestRouter(t, nil, &stubStatus{ready: domain.ErrIndexUnavailable})

	req := httptest.NewRequest("GET", "/api/v1/status", http.NoBody)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IndexReady {
		t.Error("expected index_ready false")
	}
}

func TestHealth_Degraded(t *testing.T) {
	h := newTestRouter(t, nil, &stubStatus{ready: domain.ErrIndexUnavailable})

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || resp.Checks["index"] != "error" {
		t.Errorf("unexpected health: %+v", resp)
	}
}

func TestHealth_OK(t *testing.T) {
	h := newTestRouter(t, nil, &stubStatus{count: 1})

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got %d, want %d", rr.Code, http.StatusOK)
	}
}
