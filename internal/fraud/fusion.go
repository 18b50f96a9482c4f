package fraud

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/corewright/substrate/internal/store"
)

// FraudReport is the fused outcome of running every detector against one
// heuristic: its combined score, classification band, and the raw signals
// that produced it.
type FraudReport struct {
	ID             string
	HeuristicID    string
	Score          float64
	CombinedLR     float64
	Classification string
	Signals        []AnomalySignal
}

// RunAllDetectors runs every detector against heuristicID and returns
// whichever signals fired. A heuristic that doesn't exist yields no error
// and no signals — callers treat that as "nothing to report".
func (d *Detector) RunAllDetectors(heuristicID string) ([]AnomalySignal, error) {
	h, err := d.store.GetHeuristicLifecycle(heuristicID)
	if err != nil {
		return nil, fmt.Errorf("fraud: run all detectors: %w", err)
	}
	if h == nil {
		return nil, nil
	}

	var signals []AnomalySignal
	checks := []func(*store.HeuristicLifecycle) (*AnomalySignal, error){
		d.detectSuccessRateAnomaly,
		d.detectTemporalManipulation,
		d.detectUnnaturalConfidenceGrowth,
	}
	for _, check := range checks {
		sig, err := check(h)
		if err != nil {
			return nil, err
		}
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals, nil
}

// CombineSignals fuses independent detector signals into one posterior
// fraud probability via Bayesian odds: each signal contributes a
// likelihood ratio, the ratios multiply, and the prior odds are updated by
// the combined ratio.
func CombineSignals(signals []AnomalySignal, priorFraudRate float64) (posterior, combinedLR float64) {
	combinedLR = 1.0
	for _, sig := range signals {
		combinedLR *= likelihoodRatio(sig.Score)
	}
	priorOdds := priorFraudRate / (1 - priorFraudRate)
	posteriorOdds := priorOdds * combinedLR
	posterior = posteriorOdds / (1 + posteriorOdds)
	return posterior, combinedLR
}

// ClassifyFraudScore buckets a fused score into a review band. overrides
// lets DB-stored classification_thresholds take precedence over cfg
// defaults on a per-level basis.
func ClassifyFraudScore(score float64, overrides map[string]float64, cfg Config) string {
	suspicious := cfg.ThresholdSuspicious
	if v, ok := overrides["suspicious"]; ok {
		suspicious = v
	}
	fraudLikely := cfg.ThresholdFraudLikely
	if v, ok := overrides["fraud_likely"]; ok {
		fraudLikely = v
	}
	fraudConfirmed := cfg.ThresholdFraudConfirmed
	if v, ok := overrides["fraud_confirmed"]; ok {
		fraudConfirmed = v
	}

	switch {
	case score >= fraudConfirmed:
		return "fraud_confirmed"
	case score >= fraudLikely:
		return "fraud_likely"
	case score >= suspicious:
		return "suspicious"
	default:
		return "clean"
	}
}

// CreateFraudReport runs every detector against heuristicID, fuses the
// result, persists the report and its signals, bumps the heuristic's
// fraud_flags counter, and — for fraud_likely/fraud_confirmed
// classifications — triggers the alert response. Returns nil if no signal
// fired.
func (d *Detector) CreateFraudReport(heuristicID string) (*FraudReport, error) {
	signals, err := d.RunAllDetectors(heuristicID)
	if err != nil {
		return nil, err
	}
	if len(signals) == 0 {
		return nil, nil
	}

	posterior, combinedLR := CombineSignals(signals, d.cfg.PriorFraudRate)

	overrides, err := d.store.GetClassificationThresholds()
	if err != nil {
		return nil, fmt.Errorf("fraud: create fraud report: %w", err)
	}
	classification := ClassifyFraudScore(posterior, overrides, d.cfg)

	signalsJSON, err := json.Marshal(signals)
	if err != nil {
		return nil, fmt.Errorf("fraud: marshal signals: %w", err)
	}

	report := &FraudReport{
		ID:             uuid.NewString(),
		HeuristicID:    heuristicID,
		Score:          posterior,
		CombinedLR:     combinedLR,
		Classification: classification,
		Signals:        signals,
	}

	if err := d.store.InsertFraudReport(store.FraudReport{
		ID:              report.ID,
		SubjectID:       heuristicID,
		SubjectType:     "heuristic",
		FraudScore:      posterior,
		Classification:  classification,
		Signals:         string(signalsJSON),
		LikelihoodRatio: combinedLR,
		SignalCount:     len(signals),
	}); err != nil {
		return nil, fmt.Errorf("fraud: create fraud report: %w", err)
	}

	for _, sig := range signals {
		evidenceJSON, err := json.Marshal(sig.Evidence)
		if err != nil {
			return nil, fmt.Errorf("fraud: marshal evidence: %w", err)
		}
		if err := d.store.RecordAnomalySignal(report.ID, sig.Detector, sig.Score, likelihoodRatio(sig.Score), string(evidenceJSON)); err != nil {
			return nil, fmt.Errorf("fraud: create fraud report: %w", err)
		}
	}

	if err := d.store.IncrementFraudFlags(heuristicID); err != nil {
		return nil, fmt.Errorf("fraud: create fraud report: %w", err)
	}

	if classification == "fraud_likely" || classification == "fraud_confirmed" {
		if err := d.handleFraudResponse(report); err != nil {
			return nil, fmt.Errorf("fraud: create fraud report: %w", err)
		}
	}

	return report, nil
}
