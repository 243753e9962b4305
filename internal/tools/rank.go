package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mohammad-safakhou/tably/internal/ranking"
	"github.com/openai/openai-go"
)

func rankTool(profiles map[string]ranking.Weights, defaultProfile string) Tool {
	return Tool{
		Name:        "rank_and_score",
		Description: "Score and rank the current candidates on drive time, rating, fairness, price fit, and novelty. Choose the 'safe' profile for dependable picks or 'adventurous' to reward variety.",
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"profile": map[string]interface{}{
					"type":        "string",
					"description": "Weight profile name, e.g. 'safe' or 'adventurous'",
				},
				"budget_price": map[string]interface{}{
					"type":        "integer",
					"minimum":     0,
					"maximum":     4,
					"description": "Target price tier (0-4) the group wants to stay near",
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Return only the best K entries",
				},
			},
		},
		Run: func(_ context.Context, raw json.RawMessage, st *State) (interface{}, error) {
			var args struct {
				Profile     string `json:"profile"`
				BudgetPrice *int   `json:"budget_price"`
				TopK        int    `json:"top_k"`
			}
			if err := decodeArgs("rank_and_score", raw, &args); err != nil {
				return nil, err
			}
			if len(st.Candidates) == 0 {
				return nil, &ValidationError{Tool: "rank_and_score", Msg: "no candidate restaurants: search first"}
			}
			profile := strings.ToLower(strings.TrimSpace(args.Profile))
			if profile == "" {
				profile = defaultProfile
			}
			weights, ok := profiles[profile]
			if !ok {
				return nil, &ValidationError{Tool: "rank_and_score", Msg: "unknown profile " + profile}
			}

			// Unreachable legs are left out of the matrix so they degrade a
			// candidate to the neutral drive score instead of poisoning it.
			drive := make(map[string]map[string]float64, len(st.DriveMatrix))
			for name, row := range st.DriveMatrix {
				per := make(map[string]float64, len(row))
				for person, leg := range row {
					if leg.Seconds >= UnreachableSeconds {
						continue
					}
					per[person] = leg.Seconds
				}
				if len(per) > 0 {
					drive[name] = per
				}
			}

			ranked := ranking.Rank(ranking.Input{
				Candidates:   st.Candidates,
				DriveSeconds: drive,
				BudgetPrice:  args.BudgetPrice,
				Weights:      weights,
			})
			st.LastRanking = ranked
			if args.TopK > 0 && args.TopK < len(ranked) {
				ranked = ranked[:args.TopK]
			}
			return map[string]interface{}{
				"profile": profile,
				"ranked":  ranked,
			}, nil
		},
	}
}
