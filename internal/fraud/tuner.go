package fraud

import (
	"fmt"
	"sort"

	"github.com/corewright/substrate/internal/store"
)

// defaultDetectorThresholds are the hardcoded fallbacks used until a
// detector_thresholds row overrides them.
var defaultDetectorThresholds = map[string]float64{
	"success_rate_anomaly":        0.5,
	"temporal_manipulation":       0.5,
	"unnatural_confidence_growth": 0.5,
}

var defaultClassificationThresholds = map[string]float64{
	"suspicious":      0.20,
	"fraud_likely":    0.50,
	"fraud_confirmed": 0.80,
}

// classificationSafetyBounds are the hard floor/ceiling each classification
// level's threshold is clamped to, regardless of what the data suggests.
var classificationSafetyBounds = map[string][2]float64{
	"suspicious":      {0.10, 0.40},
	"fraud_likely":    {0.30, 0.70},
	"fraud_confirmed": {0.60, 0.95},
}

const gradualAdjustmentClamp = 0.10

// TuningResult is one threshold recommendation, produced but never applied
// by this package — applying one requires an explicit, human-approved call
// to ApplyThresholdUpdate.
type TuningResult struct {
	DetectorName          string
	ThresholdType         string // detector, classification
	Level                 string // set only for ThresholdType == classification
	CurrentThreshold      float64
	RecommendedThreshold  float64
	TargetFPR             float64
	AchievedFPR           float64
	AchievedTPR           float64
	SampleSize            int
	TPCount               int
	FPCount               int
	Confidence            string
	Reason                string
	Error                 string
}

func confidenceFromSampleSize(n int) string {
	switch {
	case n >= 100:
		return "high"
	case n >= 50:
		return "medium"
	default:
		return "low"
	}
}

func clampGradualAdjustment(current, recommended float64) float64 {
	delta := recommended - current
	if delta > gradualAdjustmentClamp {
		delta = gradualAdjustmentClamp
	}
	if delta < -gradualAdjustmentClamp {
		delta = -gradualAdjustmentClamp
	}
	return current + delta
}

func ratesAtThreshold(signals []store.ReviewedSignal, threshold float64) (tpr, fpr float64) {
	var tp, fp, tpHits, fpHits int
	for _, s := range signals {
		if s.TruePositive {
			tp++
			if s.Score >= threshold {
				tpHits++
			}
		} else {
			fp++
			if s.Score >= threshold {
				fpHits++
			}
		}
	}
	if tp > 0 {
		tpr = float64(tpHits) / float64(tp)
	}
	if fp > 0 {
		fpr = float64(fpHits) / float64(fp)
	}
	return tpr, fpr
}

func uniqueDetectorScores(signals []store.ReviewedSignal) []float64 {
	seen := make(map[float64]struct{}, len(signals))
	var out []float64
	for _, s := range signals {
		if _, ok := seen[s.Score]; !ok {
			seen[s.Score] = struct{}{}
			out = append(out, s.Score)
		}
	}
	sort.Float64s(out)
	return out
}

// currentDetectorThreshold returns the effective threshold for name: an
// applied override if one exists, else the hardcoded default.
func (d *Detector) currentDetectorThreshold(name string) (float64, error) {
	t, ok, err := d.store.GetDetectorThreshold(name)
	if err != nil {
		return 0, fmt.Errorf("fraud: current detector threshold: %w", err)
	}
	if ok {
		return t, nil
	}
	return defaultDetectorThresholds[name], nil
}

// CalculateOptimalThreshold finds the detector threshold with the highest
// true-positive rate among candidates whose false-positive rate is at most
// targetFPR, gradually adjusted from the current threshold.
func (d *Detector) CalculateOptimalThreshold(detectorName string, targetFPR float64, minSamples int) (*TuningResult, error) {
	signals, err := d.store.ReviewedSignalsForDetector(detectorName)
	if err != nil {
		return nil, fmt.Errorf("fraud: calculate optimal threshold: %w", err)
	}

	var tpCount, fpCount int
	for _, s := range signals {
		if s.TruePositive {
			tpCount++
		} else {
			fpCount++
		}
	}

	result := &TuningResult{
		DetectorName:  detectorName,
		ThresholdType: "detector",
		TargetFPR:     targetFPR,
		SampleSize:    len(signals),
		TPCount:       tpCount,
		FPCount:       fpCount,
	}

	if len(signals) < minSamples || tpCount < 10 || fpCount < 10 {
		result.Error = fmt.Sprintf("insufficient reviewed samples: %d total (%d tp, %d fp), need >= %d with >= 10 of each", len(signals), tpCount, fpCount, minSamples)
		return result, nil
	}

	current, err := d.currentDetectorThreshold(detectorName)
	if err != nil {
		return nil, err
	}
	result.CurrentThreshold = current

	candidates := uniqueDetectorScores(signals)

	bestThreshold, bestTPR, bestFPR, found := 0.0, -1.0, 0.0, false
	for _, candidate := range candidates {
		tpr, fpr := ratesAtThreshold(signals, candidate)
		if fpr <= targetFPR && tpr > bestTPR {
			bestThreshold, bestTPR, bestFPR, found = candidate, tpr, fpr, true
		}
	}

	if !found {
		sort.Sort(sort.Reverse(sort.Float64Slice(candidates)))
		for _, candidate := range candidates {
			if candidate >= 0.10 {
				bestThreshold = candidate
				bestTPR, bestFPR = ratesAtThreshold(signals, candidate)
				found = true
				break
			}
		}
		if !found && len(candidates) > 0 {
			bestThreshold = candidates[len(candidates)-1]
			bestTPR, bestFPR = ratesAtThreshold(signals, bestThreshold)
		}
	}

	result.AchievedTPR = bestTPR
	result.AchievedFPR = bestFPR
	result.Confidence = confidenceFromSampleSize(len(signals))
	result.RecommendedThreshold = clampGradualAdjustment(current, bestThreshold)
	result.Reason = fmt.Sprintf("raw optimum %.3f (tpr=%.3f fpr=%.3f) gradually adjusted from %.3f", bestThreshold, bestTPR, bestFPR, current)
	return result, nil
}

// findThresholdForFPR returns the smallest candidate threshold whose FPR is
// at most targetFPR, or the most conservative (largest) candidate with a
// warning if no candidate meets the target.
func findThresholdForFPR(reports []store.ReviewedReport, targetFPR float64) (threshold, achievedFPR, achievedTPR float64, warning string) {
	candidates := make([]float64, 0, len(reports))
	seen := make(map[float64]struct{}, len(reports))
	for _, r := range reports {
		if _, ok := seen[r.FraudScore]; !ok {
			seen[r.FraudScore] = struct{}{}
			candidates = append(candidates, r.FraudScore)
		}
	}
	sort.Float64s(candidates)

	signals := make([]store.ReviewedSignal, len(reports))
	for i, r := range reports {
		signals[i] = store.ReviewedSignal{Score: r.FraudScore, TruePositive: r.TruePositive}
	}

	for _, candidate := range candidates {
		tpr, fpr := ratesAtThreshold(signals, candidate)
		if fpr <= targetFPR {
			return candidate, fpr, tpr, ""
		}
	}

	if len(candidates) == 0 {
		return 0, 0, 0, "no reviewed scores available"
	}
	maxCandidate := candidates[len(candidates)-1]
	tpr, fpr := ratesAtThreshold(signals, maxCandidate)
	return maxCandidate, fpr, tpr, "target FPR not achievable, using most conservative threshold"
}

func enforceThresholdOrdering(suspicious, likely, confirmed float64) (float64, float64, float64) {
	if likely <= suspicious {
		likely = suspicious + 0.10
	}
	if confirmed <= likely {
		confirmed = likely + 0.15
	}
	return suspicious, likely, confirmed
}

func applySafetyBounds(level string, threshold float64) (bounded float64, warning string) {
	bounds, ok := classificationSafetyBounds[level]
	if !ok {
		return threshold, ""
	}
	if threshold < bounds[0] {
		return bounds[0], fmt.Sprintf("bounded to [%.2f, %.2f]", bounds[0], bounds[1])
	}
	if threshold > bounds[1] {
		return bounds[1], fmt.Sprintf("bounded to [%.2f, %.2f]", bounds[0], bounds[1])
	}
	return threshold, ""
}

// CalculateOptimalClassificationThresholds tunes the three classification
// bands together: each level's raw threshold is found independently, then
// ordering is enforced (suspicious < fraud_likely < fraud_confirmed with
// minimum separations), safety bounds are applied, and the result is
// gradually adjusted from the current threshold.
func (d *Detector) CalculateOptimalClassificationThresholds(targetFPRSuspicious, targetFPRLikely, targetFPRConfirmed float64, minSamples int) ([]TuningResult, error) {
	reports, err := d.store.ReviewedFraudReports()
	if err != nil {
		return nil, fmt.Errorf("fraud: calculate optimal classification thresholds: %w", err)
	}

	var tpCount, fpCount int
	for _, r := range reports {
		if r.TruePositive {
			tpCount++
		} else {
			fpCount++
		}
	}

	if len(reports) < minSamples || tpCount < 10 || fpCount < 10 {
		msg := fmt.Sprintf("insufficient reviewed samples: %d total (%d tp, %d fp), need >= %d with >= 10 of each", len(reports), tpCount, fpCount, minSamples)
		results := make([]TuningResult, 0, 3)
		for _, level := range []string{"suspicious", "fraud_likely", "fraud_confirmed"} {
			results = append(results, TuningResult{ThresholdType: "classification", Level: level, SampleSize: len(reports), TPCount: tpCount, FPCount: fpCount, Error: msg})
		}
		return results, nil
	}

	susRaw, susFPR, susTPR, susWarn := findThresholdForFPR(reports, targetFPRSuspicious)
	likelyRaw, likelyFPR, likelyTPR, likelyWarn := findThresholdForFPR(reports, targetFPRLikely)
	confirmedRaw, confirmedFPR, confirmedTPR, confirmedWarn := findThresholdForFPR(reports, targetFPRConfirmed)

	susRaw, likelyRaw, confirmedRaw = enforceThresholdOrdering(susRaw, likelyRaw, confirmedRaw)

	current, err := d.store.GetClassificationThresholds()
	if err != nil {
		return nil, fmt.Errorf("fraud: calculate optimal classification thresholds: %w", err)
	}
	currentFor := func(level string) float64 {
		if v, ok := current[level]; ok {
			return v
		}
		return defaultClassificationThresholds[level]
	}

	levels := []struct {
		name       string
		raw        float64
		fpr, tpr   float64
		targetFPR  float64
		warning    string
	}{
		{"suspicious", susRaw, susFPR, susTPR, targetFPRSuspicious, susWarn},
		{"fraud_likely", likelyRaw, likelyFPR, likelyTPR, targetFPRLikely, likelyWarn},
		{"fraud_confirmed", confirmedRaw, confirmedFPR, confirmedTPR, targetFPRConfirmed, confirmedWarn},
	}

	results := make([]TuningResult, 0, 3)
	for _, lv := range levels {
		bounded, boundWarning := applySafetyBounds(lv.name, lv.raw)
		cur := currentFor(lv.name)
		recommended := clampGradualAdjustment(cur, bounded)

		reason := fmt.Sprintf("raw optimum %.3f (fpr=%.3f tpr=%.3f)", lv.raw, lv.fpr, lv.tpr)
		if lv.warning != "" {
			reason += "; " + lv.warning
		}
		if boundWarning != "" {
			reason += "; " + boundWarning
		}
		reason += fmt.Sprintf("; gradually adjusted from %.3f", cur)

		results = append(results, TuningResult{
			ThresholdType:        "classification",
			Level:                lv.name,
			CurrentThreshold:     cur,
			RecommendedThreshold: recommended,
			TargetFPR:            lv.targetFPR,
			AchievedFPR:          lv.fpr,
			AchievedTPR:          lv.tpr,
			SampleSize:           len(reports),
			TPCount:              tpCount,
			FPCount:              fpCount,
			Confidence:           confidenceFromSampleSize(len(reports)),
			Reason:               reason,
		})
	}
	return results, nil
}

// CreateRecommendation persists a TuningResult for human review; it is
// never applied automatically. Results carrying an Error are not persisted.
func (d *Detector) CreateRecommendation(r TuningResult) (int64, error) {
	if r.Error != "" {
		return 0, fmt.Errorf("fraud: create recommendation: %s", r.Error)
	}
	return d.store.CreateThresholdRecommendation(store.ThresholdRecommendation{
		DetectorName:         r.DetectorName,
		ThresholdType:        r.ThresholdType,
		Level:                r.Level,
		CurrentThreshold:     r.CurrentThreshold,
		RecommendedThreshold: r.RecommendedThreshold,
		TargetFPR:            r.TargetFPR,
		AchievedFPR:          r.AchievedFPR,
		AchievedTPR:          r.AchievedTPR,
		SampleSize:           r.SampleSize,
		TPCount:              r.TPCount,
		FPCount:              r.FPCount,
		Confidence:           r.Confidence,
		Reason:               r.Reason,
	})
}

// GetPendingRecommendations returns every tuning recommendation awaiting a
// human review decision.
func (d *Detector) GetPendingRecommendations() ([]store.ThresholdRecommendation, error) {
	return d.store.PendingThresholdRecommendations()
}

// ApplyThresholdUpdate applies a pending recommendation: caller has already
// obtained human approval. Returns the new threshold_history id, which
// RollbackThreshold can later revert.
func (d *Detector) ApplyThresholdUpdate(recommendationID int64, approvedBy, reason string) (int64, error) {
	rec, err := d.store.GetThresholdRecommendation(recommendationID)
	if err != nil {
		return 0, fmt.Errorf("fraud: apply threshold update: %w", err)
	}
	if rec == nil {
		return 0, fmt.Errorf("fraud: apply threshold update: recommendation %d not found", recommendationID)
	}
	if rec.ReviewDecision.Valid && rec.ReviewDecision.String == "rejected" {
		return 0, fmt.Errorf("fraud: apply threshold update: recommendation %d was rejected", recommendationID)
	}
	return d.store.ApplyThresholdRecommendation(*rec, approvedBy, reason)
}

// RollbackThreshold reverts a previously applied threshold change back to
// its old value.
func (d *Detector) RollbackThreshold(historyID int64, revertedBy string) error {
	h, err := d.store.GetThresholdHistory(historyID)
	if err != nil {
		return fmt.Errorf("fraud: rollback threshold: %w", err)
	}
	if h == nil {
		return fmt.Errorf("fraud: rollback threshold: history %d not found", historyID)
	}
	if h.RevertedAt.Valid {
		return fmt.Errorf("fraud: rollback threshold: history %d already reverted", historyID)
	}
	return d.store.RollbackThresholdHistory(*h, revertedBy)
}

// RunFullTuningAnalysis calculates optimal thresholds for every detector
// plus the classification bands, persisting a recommendation for every
// result that didn't fail for lack of samples.
func (d *Detector) RunFullTuningAnalysis(targetFPR float64, minSamplesDetector, minSamplesClassification int) ([]TuningResult, error) {
	var all []TuningResult

	for _, name := range []string{"success_rate_anomaly", "temporal_manipulation", "unnatural_confidence_growth"} {
		result, err := d.CalculateOptimalThreshold(name, targetFPR, minSamplesDetector)
		if err != nil {
			return nil, fmt.Errorf("fraud: run full tuning analysis: %w", err)
		}
		result.DetectorName = name
		all = append(all, *result)
	}

	classificationResults, err := d.CalculateOptimalClassificationThresholds(0.10, 0.05, 0.01, minSamplesClassification)
	if err != nil {
		return nil, fmt.Errorf("fraud: run full tuning analysis: %w", err)
	}
	all = append(all, classificationResults...)

	for _, r := range all {
		if r.Error != "" {
			continue
		}
		if _, err := d.CreateRecommendation(r); err != nil {
			return all, fmt.Errorf("fraud: run full tuning analysis: %w", err)
		}
	}
	return all, nil
}
