package aiethics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Veridian-Labs/aegis/pkg/ident"
)

var ErrNoPredictions = errors.New("no predictions supplied")

// Prediction is one model output paired with ground truth, bucketed
// by the value of the protected attribute under evaluation.
type Prediction struct {
	Group     string `json:"group"`
	Actual    bool   `json:"actual"`
	Predicted bool   `json:"predicted"`
}

// PredictionsFromRecords converts raw attribute maps into typed
// predictions for the given protected attribute.
func PredictionsFromRecords(records []map[string]interface{}, protectedAttr, actualField, predictedField string) []Prediction {
	preds := make([]Prediction, 0, len(records))
	for _, rec := range records {
		group := "unknown"
		if v, ok := rec[protectedAttr]; ok && v != nil {
			group = fmt.Sprintf("%v", v)
		}
		preds = append(preds, Prediction{
			Group:     group,
			Actual:    positiveOutcome(rec[actualField]),
			Predicted: positiveOutcome(rec[predictedField]),
		})
	}
	return preds
}

// MetricResult is the outcome of one fairness metric.
type MetricResult struct {
	Metric     string             `json:"metric"`
	Score      float64            `json:"score"` // 0..1, 1 = perfectly fair
	Passed     bool               `json:"passed"`
	GroupRates map[string]float64 `json:"group_rates,omitempty"`
}

// FairnessEvaluation is the stored result of one evaluation.
type FairnessEvaluation struct {
	ID            string         `json:"id"`
	ProtectedAttr string         `json:"protected_attr"`
	Metrics       []MetricResult `json:"metrics"`
	FairnessScore float64        `json:"fairness_score"`
	IsFair        bool           `json:"is_fair"`
	Threshold     float64        `json:"threshold"`
	Predictions   int            `json:"predictions"`
	EvaluatedAt   time.Time      `json:"evaluated_at"`
}

// FairnessAnalyzer computes five fairness metrics over prediction sets.
type FairnessAnalyzer struct {
	mu          sync.RWMutex
	evaluations map[string]*FairnessEvaluation
	threshold   float64 // metric passes when score >= threshold
	stats       map[string]int
	clock       func() time.Time
}

// NewFairnessAnalyzer creates an analyzer with the default 0.8 threshold.
func NewFairnessAnalyzer() *FairnessAnalyzer {
	return &FairnessAnalyzer{
		evaluations: make(map[string]*FairnessEvaluation),
		threshold:   0.8,
		stats:       map[string]int{"evaluations": 0, "unfair": 0},
		clock:       time.Now,
	}
}

// WithClock overrides the time source. Returns the analyzer for chaining.
func (a *FairnessAnalyzer) WithClock(clock func() time.Time) *FairnessAnalyzer {
	a.clock = clock
	return a
}

// SetThreshold adjusts the pass threshold, in (0,1].
func (a *FairnessAnalyzer) SetThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("invalid fairness threshold: %v", threshold)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threshold = threshold
	return nil
}

// groupTally accumulates confusion-matrix counts per group.
type groupTally struct {
	total        int
	predictedPos int
	actualPos    int
	actualNeg    int
	tp           int
	fp           int
	correct      int
}

// EvaluateFairness computes all five metrics and stores the evaluation.
func (a *FairnessAnalyzer) EvaluateFairness(protectedAttr string, predictions []Prediction) (*FairnessEvaluation, error) {
	if len(predictions) == 0 {
		return nil, ErrNoPredictions
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tallies := make(map[string]*groupTally)
	for _, p := range predictions {
		t, ok := tallies[p.Group]
		if !ok {
			t = &groupTally{}
			tallies[p.Group] = t
		}
		t.total++
		if p.Predicted {
			t.predictedPos++
		}
		if p.Actual {
			t.actualPos++
			if p.Predicted {
				t.tp++
			}
		} else {
			t.actualNeg++
			if p.Predicted {
				t.fp++
			}
		}
		if p.Predicted == p.Actual {
			t.correct++
		}
	}

	metrics := []MetricResult{
		a.demographicParity(tallies),
		a.equalOpportunity(tallies),
		a.equalizedOdds(tallies),
		a.calibration(tallies),
		a.groupFairness(tallies),
	}

	sum := 0.0
	for _, m := range metrics {
		sum += m.Score
	}
	score := sum / float64(len(metrics))

	eval := &FairnessEvaluation{
		ID:            ident.New(ident.PrefixFairness),
		ProtectedAttr: protectedAttr,
		Metrics:       metrics,
		FairnessScore: score,
		IsFair:        score >= a.threshold,
		Threshold:     a.threshold,
		Predictions:   len(predictions),
		EvaluatedAt:   a.clock(),
	}
	a.evaluations[eval.ID] = eval
	a.stats["evaluations"]++
	if !eval.IsFair {
		a.stats["unfair"]++
	}
	return eval, nil
}

// ratioScore returns min/max of the rates, 1.0 when there is at most
// one group or every rate is zero.
func ratioScore(rates map[string]float64) float64 {
	if len(rates) < 2 {
		return 1.0
	}
	min, max := minMax(rates)
	if max == 0 {
		return 1.0
	}
	return min / max
}

func (a *FairnessAnalyzer) demographicParity(tallies map[string]*groupTally) MetricResult {
	rates := make(map[string]float64, len(tallies))
	for group, t := range tallies {
		rates[group] = float64(t.predictedPos) / float64(t.total)
	}
	score := ratioScore(rates)
	return MetricResult{Metric: "demographic_parity", Score: score, Passed: score >= a.threshold, GroupRates: rates}
}

func (a *FairnessAnalyzer) equalOpportunity(tallies map[string]*groupTally) MetricResult {
	rates := make(map[string]float64, len(tallies))
	for group, t := range tallies {
		if t.actualPos > 0 {
			rates[group] = float64(t.tp) / float64(t.actualPos)
		} else {
			rates[group] = 0
		}
	}
	score := ratioScore(rates)
	return MetricResult{Metric: "equal_opportunity", Score: score, Passed: score >= a.threshold, GroupRates: rates}
}

// equalizedOdds mixes the TPR ratio with the FPR spread. The two
// halves are intentionally computed differently.
func (a *FairnessAnalyzer) equalizedOdds(tallies map[string]*groupTally) MetricResult {
	tprs := make(map[string]float64, len(tallies))
	fprs := make(map[string]float64, len(tallies))
	for group, t := range tallies {
		if t.actualPos > 0 {
			tprs[group] = float64(t.tp) / float64(t.actualPos)
		} else {
			tprs[group] = 0
		}
		if t.actualNeg > 0 {
			fprs[group] = float64(t.fp) / float64(t.actualNeg)
		} else {
			fprs[group] = 0
		}
	}
	tprScore := ratioScore(tprs)
	fprMin, fprMax := minMax(fprs)
	score := (tprScore + (1 - (fprMax - fprMin))) / 2

	rates := make(map[string]float64, len(tallies)*2)
	for group, v := range tprs {
		rates["tpr:"+group] = v
	}
	for group, v := range fprs {
		rates["fpr:"+group] = v
	}
	return MetricResult{Metric: "equalized_odds", Score: score, Passed: score >= a.threshold, GroupRates: rates}
}

func (a *FairnessAnalyzer) calibration(tallies map[string]*groupTally) MetricResult {
	rates := make(map[string]float64, len(tallies))
	for group, t := range tallies {
		if t.predictedPos > 0 {
			rates[group] = float64(t.tp) / float64(t.predictedPos)
		} else {
			rates[group] = 0
		}
	}
	score := ratioScore(rates)
	return MetricResult{Metric: "calibration", Score: score, Passed: score >= a.threshold, GroupRates: rates}
}

func (a *FairnessAnalyzer) groupFairness(tallies map[string]*groupTally) MetricResult {
	rates := make(map[string]float64, len(tallies))
	for group, t := range tallies {
		rates[group] = float64(t.correct) / float64(t.total)
	}
	score := ratioScore(rates)
	return MetricResult{Metric: "group_fairness", Score: score, Passed: score >= a.threshold, GroupRates: rates}
}

// Evaluation returns a stored evaluation by id.
func (a *FairnessAnalyzer) Evaluation(id string) (*FairnessEvaluation, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	eval, ok := a.evaluations[id]
	if !ok {
		return nil, fmt.Errorf("evaluation %q not found", id)
	}
	return eval, nil
}

// Stats returns the analyzer's counters.
func (a *FairnessAnalyzer) Stats() map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int, len(a.stats))
	for k, v := range a.stats {
		out[k] = v
	}
	return out
}
