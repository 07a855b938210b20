package domain

// Stage identifies one step of the diagnosis pipeline. The value stored in
// PipelineState.CurrentStage is the name of the next stage to execute, so a
// suspended or failed run can be inspected and resumed.
type Stage string

// Pipeline stages in execution order, plus the two terminal markers and the
// suspension point between question generation and refinement.
const (
	StageInitialAssessment    Stage = "initial_assessment"
	StageInformationGathering Stage = "information_gathering"
	StageHypothesisGeneration Stage = "hypothesis_generation"
	StageClarifyingQuestions  Stage = "clarifying_questions"
	StageAwaitingAnswers      Stage = "awaiting_answers"
	StageHypothesisRefinement Stage = "hypothesis_refinement"
	StageFinalDiagnosis       Stage = "final_diagnosis"
	StageTreatmentPlan        Stage = "treatment_plan"
	StageComplete             Stage = "complete"
	StageFailed               Stage = "failed"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// PipelineState is the single mutable record threaded through all stages of
// one diagnosis run. It is owned exclusively by the engine for the lifetime
// of the run and is JSON-serializable so a run suspended at the
// answer-collection point can be returned to the caller and resumed later.
//
// Fields are write-once per stage in the forward direction: UserInput and
// PatientContext are set at construction and never mutated, Differential is
// overwritten exactly once by refinement, everything else is written by the
// single stage that owns it.
type PipelineState struct {
	UserInput      string            `json:"user_input"`
	PatientContext map[string]string `json:"patient_context,omitempty"`

	Assessment   Assessment        `json:"assessment"`
	Differential Differential      `json:"differential"`
	Questions    []Question        `json:"questions,omitempty"`
	Answers      map[string]string `json:"answers,omitempty"`

	FinalResult FinalDiagnosis `json:"final_result"`
	Treatment   TreatmentPlan  `json:"treatment"`
	Confidence  float64        `json:"confidence"`

	RetrievedChunks []RetrievedChunk `json:"retrieved_chunks,omitempty"`
	Sources         []string         `json:"sources,omitempty"`

	CurrentStage Stage  `json:"current_stage"`
	Error        string `json:"error,omitempty"`
}

// NewPipelineState constructs the initial state for a run. All derived
// fields start empty; the first stage to execute is initial_assessment.
func NewPipelineState(userInput string, patientContext map[string]string) *PipelineState {
	return &PipelineState{
		UserInput:      userInput,
		PatientContext: patientContext,
		CurrentStage:   StageInitialAssessment,
	}
}

// Fail moves the state to its terminal error form: the caller always
// receives a well-formed result object, never a raw fault.
func (s *PipelineState) Fail(err error) {
	s.CurrentStage = StageFailed
	s.Error = err.Error()
	s.FinalResult = FinalDiagnosis{
		PrimaryDiagnosis: "System Error",
		Confidence:       0,
	}
	s.Confidence = 0
}
