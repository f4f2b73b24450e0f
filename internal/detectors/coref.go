package detectors

import "textrain/internal/domain"

// newCorefDetector is the event pipeline with phrase-level trigger
// candidates, so mention spans longer than one token stay reachable.
func newCorefDetector() *multiStage {
	return &multiStage{
		base:    base{name: domain.DetectorCoref},
		phrases: true,
	}
}
