package db

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// beatThreshold is the beat byte above which a report counts as on-beat.
const beatThreshold = 128

// BandStats summarises one level channel over a capture window.
type BandStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P50    float64 `json:"p50"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`
}

// SummariseBand computes mean, spread and quantiles of values. It returns
// the zero value for an empty slice; values is sorted in place.
func SummariseBand(values []float64) BandStats {
	if len(values) == 0 {
		return BandStats{}
	}
	sort.Float64s(values)
	var bs BandStats
	if len(values) == 1 {
		bs.Mean = values[0]
	} else {
		bs.Mean, bs.StdDev = stat.MeanStdDev(values, nil)
	}
	bs.P50 = stat.Quantile(0.5, stat.Empirical, values, nil)
	bs.P95 = stat.Quantile(0.95, stat.Empirical, values, nil)
	bs.Max = values[len(values)-1]
	return bs
}

// SummariseLevels builds per-band statistics over a level series.
func SummariseLevels(points []LevelPoint) (map[string]BandStats, float64) {
	if len(points) == 0 {
		return nil, 0
	}
	series := map[string][]float64{}
	beats := 0
	for _, p := range points {
		series["master_gain"] = append(series["master_gain"], float64(p.MasterGain))
		series["loudness_rms"] = append(series["loudness_rms"], float64(p.LoudnessRMS))
		series["bass"] = append(series["bass"], float64(p.Bass))
		series["mid"] = append(series["mid"], float64(p.Mid))
		series["treble"] = append(series["treble"], float64(p.Treble))
		if p.Beat >= beatThreshold {
			beats++
		}
	}
	bands := make(map[string]BandStats, len(series))
	for name, values := range series {
		bands[name] = SummariseBand(values)
	}
	return bands, float64(beats) / float64(len(points))
}
