package trend

import "time"

// Direction is the coarse movement of case counts over the last two weeks.
type Direction string

const (
	DirectionUnknown Direction = "unknown"
	DirectionRising  Direction = "rising"
	DirectionFalling Direction = "falling"
	DirectionStable  Direction = "stable"
)

// directionThreshold is the relative change between consecutive weeks treated as movement.
const directionThreshold = 0.05

// Summary holds the dashboard KPIs derived from a HistoricalSeries.
type Summary struct {
	LatestDate  time.Time `json:"latestDate"`
	LatestCases int       `json:"latestCases"`
	SevenDayAvg float64   `json:"sevenDayAvg"`
	PrevWeekAvg float64   `json:"prevWeekAvg"`
	Direction   Direction `json:"direction"`
	AvgTemp     float64   `json:"avgTemp"`
	AvgAQI      float64   `json:"avgAqi"`
	PeakCases   int       `json:"peakCases"`
	Points      int       `json:"points"`
}

// Summarize computes KPIs over a series. Numeric fields are averaged; the direction
// compares the mean of the last seven points with the seven before them.
func Summarize(s HistoricalSeries) Summary {
	if len(s.Points) == 0 {
		return Summary{Direction: DirectionUnknown}
	}

	var sumTemp, sumAQI float64
	peak := 0
	for _, p := range s.Points {
		sumTemp += p.AvgTemp
		sumAQI += p.AQI
		if p.Cases > peak {
			peak = p.Cases
		}
	}
	n := float64(len(s.Points))
	latest := s.Points[len(s.Points)-1]

	sum := Summary{
		LatestDate:  latest.Date,
		LatestCases: latest.Cases,
		AvgTemp:     sumTemp / n,
		AvgAQI:      sumAQI / n,
		PeakCases:   peak,
		Points:      len(s.Points),
		Direction:   DirectionUnknown,
	}

	last := tail(s.Points, 0, 7)
	sum.SevenDayAvg = meanCases(last)

	prev := tail(s.Points, 7, 7)
	if len(prev) == 0 {
		return sum
	}
	sum.PrevWeekAvg = meanCases(prev)

	switch {
	case sum.PrevWeekAvg == 0 && sum.SevenDayAvg > 0:
		sum.Direction = DirectionRising
	case sum.PrevWeekAvg == 0:
		sum.Direction = DirectionStable
	default:
		change := (sum.SevenDayAvg - sum.PrevWeekAvg) / sum.PrevWeekAvg
		switch {
		case change > directionThreshold:
			sum.Direction = DirectionRising
		case change < -directionThreshold:
			sum.Direction = DirectionFalling
		default:
			sum.Direction = DirectionStable
		}
	}
	return sum
}

// tail returns up to n points ending skip points before the end of pts.
func tail(pts []ObservationPoint, skip, n int) []ObservationPoint {
	end := len(pts) - skip
	if end <= 0 {
		return nil
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	return pts[start:end]
}

func meanCases(pts []ObservationPoint) float64 {
	if len(pts) == 0 {
		return 0
	}
	total := 0
	for _, p := range pts {
		total += p.Cases
	}
	return float64(total) / float64(len(pts))
}
