package scoring

// Summary is a statistical view over one scoring pass
type Summary struct {
	Total         int     `json:"total_testcases"`
	AvgScore      float64 `json:"avg_score"`
	MaxScore      float64 `json:"max_score"`
	MinScore      float64 `json:"min_score"`
	AvgNormalized float64 `json:"avg_normalized_score"`
	High          int     `json:"high_priority_count"`
	Medium        int     `json:"medium_priority_count"`
	Low           int     `json:"low_priority_count"`
}

// Summarize buckets results on their totals normalized to 0-100 over the
// batch's min-max range. A batch with a single distinct total normalizes to 100.
func Summarize(results []Result) Summary {
	if len(results) == 0 {
		return Summary{}
	}

	s := Summary{
		Total:    len(results),
		MaxScore: results[0].Total,
		MinScore: results[0].Total,
	}
	sum := 0.0
	for _, r := range results {
		sum += r.Total
		if r.Total > s.MaxScore {
			s.MaxScore = r.Total
		}
		if r.Total < s.MinScore {
			s.MinScore = r.Total
		}
	}
	s.AvgScore = Round(sum / float64(len(results)))

	spread := s.MaxScore - s.MinScore
	normSum := 0.0
	for _, r := range results {
		n := 100.0
		if spread != 0 {
			n = Round((r.Total - s.MinScore) / spread * 100)
		}
		normSum += n
		switch {
		case n >= 80:
			s.High++
		case n >= 40:
			s.Medium++
		default:
			s.Low++
		}
	}
	s.AvgNormalized = Round(normSum / float64(len(results)))

	return s
}
