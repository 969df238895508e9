package history

import (
	"fmt"
	"math"
	"time"
)

// BuildTrendReport derives per-run deltas and a moving warning average from
// runs ordered oldest to newest, as RunsSince returns them.
func BuildTrendReport(runs []Run, window time.Duration) (TrendReport, error) {
	if len(runs) == 0 {
		return TrendReport{}, fmt.Errorf("no runs available")
	}

	points := make([]TrendPoint, 0, len(runs))
	for i, current := range runs {
		point := TrendPoint{
			Timestamp:    current.Timestamp,
			CommitHash:   current.CommitHash,
			ModuleCount:  current.ModuleCount,
			CrateCount:   current.CrateCount,
			FileCount:    current.FileCount,
			WarningCount: current.WarningCount,
		}

		if i > 0 {
			prev := runs[i-1]
			point.DeltaModules = current.ModuleCount - prev.ModuleCount
			point.DeltaFiles = current.FileCount - prev.FileCount
			point.DeltaWarnings = current.WarningCount - prev.WarningCount
			if prev.ModuleCount > 0 {
				point.ModuleGrowthPct = (float64(point.DeltaModules) / float64(prev.ModuleCount)) * 100
			}
		}

		point.AvgWarnings = round2(movingWarningAverage(runs, i, window))
		point.WindowHours = round2(window.Hours())
		points = append(points, point)
	}

	return TrendReport{
		SchemaVersion: SchemaVersion,
		Since:         runs[0].Timestamp,
		Until:         runs[len(runs)-1].Timestamp,
		Window:        window.String(),
		RunCount:      len(points),
		Points:        points,
	}, nil
}

func movingWarningAverage(runs []Run, index int, window time.Duration) float64 {
	if window <= 0 {
		return float64(runs[index].WarningCount)
	}

	cutoff := runs[index].Timestamp.Add(-window)
	total := 0
	count := 0
	for i := index; i >= 0; i-- {
		if runs[i].Timestamp.Before(cutoff) {
			break
		}
		total += runs[i].WarningCount
		count++
	}
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
