// Package ranking scores and orders candidate restaurants for a group.
//
// The engine is a pure function: identical inputs always produce the
// identical ordered set. Callers truncate to a display limit themselves.
package ranking

import (
	"math"
	"sort"

	"github.com/samber/lo"
)

const maxPublicRating = 5.0

// Candidate is one restaurant under consideration.
type Candidate struct {
	PlaceID      string  `json:"place_id,omitempty"`
	Name         string  `json:"name"`
	Address      string  `json:"address,omitempty"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Rating       float64 `json:"rating"`
	TotalRatings int     `json:"total_ratings"`
	PriceLevel   *int    `json:"price_level"`
}

// Weights is the blend applied to the sub-scores. Values must be
// non-negative and sum to a positive value; the total is normalized by
// the weight sum so it stays on the 0-10 scale.
type Weights struct {
	Drive    float64
	Rating   float64
	Fairness float64
	Price    float64
	Novelty  float64
}

// Input carries everything the engine needs for one scoring pass.
type Input struct {
	Candidates []Candidate
	// DriveSeconds maps restaurant name -> friend name -> drive seconds.
	// Missing restaurants (or empty rows) score neutrally.
	DriveSeconds map[string]map[string]float64
	// BudgetPrice is the group's stated price tier (0-4); nil means unstated.
	BudgetPrice *int
	Weights     Weights
}

// Breakdown exposes each sub-score on the 0-10 scale.
type Breakdown struct {
	DriveScore    float64 `json:"drive_score"`
	RatingScore   float64 `json:"rating_score"`
	FairnessScore float64 `json:"fairness_score"`
	PriceScore    float64 `json:"price_score"`
	NoveltyScore  float64 `json:"novelty_score,omitempty"`
}

// DriveStats summarises the group's travel burden for one restaurant.
type DriveStats struct {
	AvgMinutes    float64 `json:"avg_minutes"`
	MaxMinutes    float64 `json:"max_minutes"`
	SpreadMinutes float64 `json:"spread_minutes"`
}

// Ranked is one scored restaurant in the final ordering.
type Ranked struct {
	Rank int `json:"rank"`
	Candidate
	Breakdown  Breakdown   `json:"breakdown"`
	TotalScore float64     `json:"total_score"`
	DriveStats *DriveStats `json:"drive_stats,omitempty"`

	spreadSeconds float64
}

// Rank scores every candidate and returns the full ordered set, ranks
// contiguous from 1 and total_score non-increasing.
func Rank(in Input) []Ranked {
	n := len(in.Candidates)
	if n == 0 {
		return []Ranked{}
	}
	out := make([]Ranked, n)

	// Fairness is relative: spreads are normalized across the candidate set.
	spreads := map[string]float64{}
	for _, c := range in.Candidates {
		if secs := rowValues(in.DriveSeconds[c.Name]); len(secs) > 0 {
			spreads[c.Name] = lo.Max(secs) - lo.Min(secs)
		}
	}
	var minSpread, maxSpread float64
	if len(spreads) > 0 {
		vals := lo.Values(spreads)
		minSpread, maxSpread = lo.Min(vals), lo.Max(vals)
	}

	for i, c := range in.Candidates {
		r := Ranked{Candidate: c, spreadSeconds: math.Inf(1)}
		secs := rowValues(in.DriveSeconds[c.Name])

		if len(secs) == 0 {
			r.Breakdown.DriveScore = 5.0
			r.Breakdown.FairnessScore = 5.0
		} else {
			avg := lo.Sum(secs) / float64(len(secs))
			maxSecs := lo.Max(secs)
			spread := spreads[c.Name]
			r.spreadSeconds = spread
			r.Breakdown.DriveScore = math.Max(0, 10-avg/240)
			if maxSpread > minSpread {
				norm := (spread - minSpread) / (maxSpread - minSpread)
				r.Breakdown.FairnessScore = 9.0 - norm*7.0
			} else {
				r.Breakdown.FairnessScore = 7.0
			}
			r.DriveStats = &DriveStats{
				AvgMinutes:    round1(avg / 60),
				MaxMinutes:    round1(maxSecs / 60),
				SpreadMinutes: round1(spread / 60),
			}
		}

		r.Breakdown.RatingScore = ratingScore(c.Rating, c.TotalRatings)
		r.Breakdown.PriceScore = priceScore(c.PriceLevel, in.BudgetPrice)
		r.Breakdown.NoveltyScore = noveltyScore(i, n)

		w := in.Weights
		wsum := w.Drive + w.Rating + w.Fairness + w.Price + w.Novelty
		if wsum <= 0 {
			wsum = 1
		}
		total := (w.Drive*r.Breakdown.DriveScore +
			w.Rating*r.Breakdown.RatingScore +
			w.Fairness*r.Breakdown.FairnessScore +
			w.Price*r.Breakdown.PriceScore +
			w.Novelty*r.Breakdown.NoveltyScore) / wsum

		r.Breakdown.DriveScore = round2(r.Breakdown.DriveScore)
		r.Breakdown.RatingScore = round2(r.Breakdown.RatingScore)
		r.Breakdown.FairnessScore = round2(r.Breakdown.FairnessScore)
		r.Breakdown.PriceScore = round2(r.Breakdown.PriceScore)
		r.Breakdown.NoveltyScore = round2(r.Breakdown.NoveltyScore)
		r.TotalScore = round2(total)
		out[i] = r
	}

	sort.SliceStable(out, func(a, b int) bool {
		x, y := out[a], out[b]
		if x.TotalScore != y.TotalScore {
			return x.TotalScore > y.TotalScore
		}
		if x.Breakdown.RatingScore != y.Breakdown.RatingScore {
			return x.Breakdown.RatingScore > y.Breakdown.RatingScore
		}
		if x.spreadSeconds != y.spreadSeconds {
			return x.spreadSeconds < y.spreadSeconds
		}
		return x.Name < y.Name
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// ratingScore maps the public rating onto 0-10, nudged by review-count
// confidence: heavy review volume boosts, thin volume damps toward neutral.
func ratingScore(rating float64, totalRatings int) float64 {
	score := rating / maxPublicRating * 10
	switch {
	case totalRatings >= 500:
		score *= 1.1
	case totalRatings >= 200:
		score *= 1.05
	case totalRatings < 50:
		score *= 0.75
	}
	return math.Min(10, score)
}

// priceScore penalizes distance from the stated budget tier, harder when
// the venue costs more than the budget than when it costs less.
func priceScore(price, budget *int) float64 {
	if price == nil {
		return 6.0
	}
	b := 2
	if budget != nil {
		b = *budget
	}
	diff := float64(*price - b)
	if diff > 0 {
		return math.Max(0, 10-4*diff)
	}
	return math.Max(0, 10+3*diff)
}

// noveltyScore decays with position in the search provider's ordering:
// venues surfaced later are treated as less mainstream.
func noveltyScore(index, total int) float64 {
	if total <= 1 {
		return 5.0
	}
	return 10 * float64(index) / float64(total-1)
}

func rowValues(row map[string]float64) []float64 {
	if len(row) == 0 {
		return nil
	}
	keys := lo.Keys(row)
	sort.Strings(keys)
	vals := make([]float64, 0, len(keys))
	for _, k := range keys {
		vals = append(vals, row[k])
	}
	return vals
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
