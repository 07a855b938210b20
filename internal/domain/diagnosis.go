package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Assessment is the structured form of the patient's initial complaint,
// produced by the assessment stage.
type Assessment struct {
	MainSymptoms      []string `json:"main_symptoms"`
	SecondarySymptoms []string `json:"secondary_symptoms"`
	Duration          string   `json:"duration_of_symptoms,omitempty"`
	PatientAge        int      `json:"patient_age,omitempty"`
	PatientSex        string   `json:"patient_sex,omitempty"`
	OtherInfo         string   `json:"other_relevant_info,omitempty"`
	Summary           string   `json:"initial_summary"`
}

// Validate checks the structural invariants of an assessment.
func (a Assessment) Validate() error {
	if len(a.MainSymptoms) == 0 {
		return fmt.Errorf("%w: assessment has no main symptoms", ErrMalformedOutput)
	}
	if strings.TrimSpace(a.Summary) == "" {
		return fmt.Errorf("%w: assessment summary is empty", ErrMalformedOutput)
	}
	return nil
}

// IsZero reports whether the assessment has not been populated yet.
func (a Assessment) IsZero() bool {
	return len(a.MainSymptoms) == 0 && a.Summary == ""
}

// Hypothesis is a single candidate condition within a differential.
type Hypothesis struct {
	Condition   string  `json:"condition"`
	Probability float64 `json:"probability"`
	Reasoning   string  `json:"reasoning"`
}

// Differential is a ranked list of candidate conditions.
type Differential struct {
	Hypotheses []Hypothesis `json:"hypotheses"`
}

// Validate checks the structural invariants of a differential: a non-empty
// list, non-empty condition names and reasoning, probabilities in [0, 1].
// The probability sum is deliberately not hard-rejected; callers decide how
// much drift from 1.0 to tolerate.
func (d Differential) Validate() error {
	if len(d.Hypotheses) == 0 {
		return fmt.Errorf("%w: differential has no hypotheses", ErrMalformedOutput)
	}
	for i, h := range d.Hypotheses {
		if strings.TrimSpace(h.Condition) == "" {
			return fmt.Errorf("%w: hypothesis %d has empty condition", ErrMalformedOutput, i)
		}
		if strings.TrimSpace(h.Reasoning) == "" {
			return fmt.Errorf("%w: hypothesis %d (%s) has empty reasoning", ErrMalformedOutput, i, h.Condition)
		}
		if math.IsNaN(h.Probability) || h.Probability < 0 || h.Probability > 1 {
			return fmt.Errorf("%w: hypothesis %d (%s) probability %v out of [0,1]",
				ErrMalformedOutput, i, h.Condition, h.Probability)
		}
	}
	return nil
}

// Sort orders hypotheses by descending probability. Ties break by condition
// name so downstream consumers always see the same order.
func (d *Differential) Sort() {
	sort.SliceStable(d.Hypotheses, func(i, j int) bool {
		if d.Hypotheses[i].Probability != d.Hypotheses[j].Probability {
			return d.Hypotheses[i].Probability > d.Hypotheses[j].Probability
		}
		return d.Hypotheses[i].Condition < d.Hypotheses[j].Condition
	})
}

// ProbabilitySum returns the total probability mass across hypotheses.
func (d Differential) ProbabilitySum() float64 {
	var sum float64
	for _, h := range d.Hypotheses {
		sum += h.Probability
	}
	return sum
}

// Top returns the highest-probability hypothesis. Call Sort first.
func (d Differential) Top() (Hypothesis, bool) {
	if len(d.Hypotheses) == 0 {
		return Hypothesis{}, false
	}
	return d.Hypotheses[0], true
}

// Question is a single clarifying question for the patient. Reasoning is
// internal and not shown to the end user.
type Question struct {
	Question  string `json:"question"`
	Reasoning string `json:"reasoning"`
}

// QuestionList bounds: the reference keeps user burden low.
const (
	MinQuestions = 1
	MaxQuestions = 3
)

// ValidateQuestions checks the clarifying-question invariants: 1-3 distinct,
// non-empty questions.
func ValidateQuestions(qs []Question) error {
	if len(qs) < MinQuestions || len(qs) > MaxQuestions {
		return fmt.Errorf("%w: expected %d-%d questions, got %d",
			ErrMalformedOutput, MinQuestions, MaxQuestions, len(qs))
	}
	seen := make(map[string]struct{}, len(qs))
	for i, q := range qs {
		text := strings.TrimSpace(q.Question)
		if text == "" {
			return fmt.Errorf("%w: question %d is empty", ErrMalformedOutput, i)
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate question %q", ErrMalformedOutput, text)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// FinalDiagnosis is the terminal diagnostic output.
type FinalDiagnosis struct {
	PrimaryDiagnosis string   `json:"primary_diagnosis"`
	Confidence       float64  `json:"confidence_score"`
	Summary          string   `json:"final_summary"`
	NextSteps        []string `json:"next_steps"`
	Disclaimer       string   `json:"disclaimer"`
}

// Validate checks the final diagnosis invariants. NaN confidence is rejected
// outright; finite out-of-range values are the caller's to clamp.
func (f FinalDiagnosis) Validate() error {
	if strings.TrimSpace(f.PrimaryDiagnosis) == "" {
		return fmt.Errorf("%w: final diagnosis has empty condition", ErrMalformedOutput)
	}
	if math.IsNaN(f.Confidence) || math.IsInf(f.Confidence, 0) {
		return fmt.Errorf("%w: final confidence is not a finite number", ErrMalformedOutput)
	}
	return nil
}

// TreatmentSuggestion is one piece of general, non-prescriptive advice.
type TreatmentSuggestion struct {
	Suggestion string `json:"suggestion"`
	Category   string `json:"category"`
}

// TreatmentPlan is a set of general suggestions for the diagnosed condition.
type TreatmentPlan struct {
	Condition     string                `json:"condition"`
	Suggestions   []TreatmentSuggestion `json:"suggestions"`
	ImportantNote string                `json:"important_note"`
}

// Validate checks the treatment plan invariants.
func (t TreatmentPlan) Validate() error {
	if strings.TrimSpace(t.Condition) == "" {
		return fmt.Errorf("%w: treatment plan has empty condition", ErrMalformedOutput)
	}
	if len(t.Suggestions) == 0 {
		return fmt.Errorf("%w: treatment plan has no suggestions", ErrMalformedOutput)
	}
	for i, s := range t.Suggestions {
		if strings.TrimSpace(s.Suggestion) == "" {
			return fmt.Errorf("%w: treatment suggestion %d is empty", ErrMalformedOutput, i)
		}
	}
	return nil
}

// ClampConfidence forces a finite confidence value into [0, 1].
func ClampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
