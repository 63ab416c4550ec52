package correlation

import (
	"gonum.org/v1/gonum/stat"

	"github.com/marketecho/marketecho/internal/domain"
)

// SignificanceScorer turns an observed return and a baseline sample set into
// a scalar significance. The statistical model behind the scalar is
// swappable; the engine only depends on this contract.
type SignificanceScorer interface {
	Score(observed float64, baseline []float64) (float64, domain.BaselineStats)
}

// ZScoreScorer scores the observed return as a z-score against the baseline
// mean and standard deviation. The baseline is treated as the population, so
// a crafted sample set with known mean and deviation scores exactly.
type ZScoreScorer struct{}

// NewZScoreScorer creates the default scorer.
func NewZScoreScorer() *ZScoreScorer {
	return &ZScoreScorer{}
}

// Score returns the z-score of observed against the baseline. With fewer
// than two samples or zero variance the score is zero; the caller flags low
// confidence from the sample count separately.
func (s *ZScoreScorer) Score(observed float64, baseline []float64) (float64, domain.BaselineStats) {
	stats := domain.BaselineStats{Samples: len(baseline)}
	if len(baseline) == 0 {
		return 0, stats
	}

	stats.Mean = stat.Mean(baseline, nil)
	stats.StdDev = stat.PopStdDev(baseline, nil)

	if len(baseline) < 2 || stats.StdDev == 0 {
		return 0, stats
	}

	return (observed - stats.Mean) / stats.StdDev, stats
}
