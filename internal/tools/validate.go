package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
)

// Rejection explains why one candidate was filtered out.
type Rejection struct {
	Restaurant string   `json:"restaurant"`
	Reasons    []string `json:"reasons"`
}

// ValidateCandidates partitions candidates into keepers and rejects.
// A candidate is rejected when its name matches a friend's allergy or
// dislike keyword, or when anyone's drive exceeds the ceiling. Every
// candidate lands in exactly one of the two lists.
func ValidateCandidates(candidates []Restaurant, friends []Friend, matrix map[string]map[string]DriveLeg, maxDriveMinutes float64) (valid []Restaurant, rejected []Rejection) {
	for _, c := range candidates {
		var reasons []string
		lowered := strings.ToLower(c.Name)
		for _, f := range friends {
			for _, allergy := range f.Preferences.Allergies {
				kw := strings.ToLower(strings.TrimSpace(allergy))
				if kw != "" && strings.Contains(lowered, kw) {
					reasons = append(reasons, fmt.Sprintf("%s is allergic to %s", f.Name, allergy))
				}
			}
			for _, dislike := range f.Preferences.Dislikes {
				kw := strings.ToLower(strings.TrimSpace(dislike))
				if kw != "" && strings.Contains(lowered, kw) {
					reasons = append(reasons, fmt.Sprintf("%s dislikes %s", f.Name, dislike))
				}
			}
		}
		if maxDriveMinutes > 0 {
			if row, ok := matrix[c.Name]; ok {
				var worst float64
				var worstPerson string
				for person, leg := range row {
					if leg.Seconds >= UnreachableSeconds {
						continue
					}
					if leg.Seconds > worst {
						worst = leg.Seconds
						worstPerson = person
					}
				}
				if worst/60 > maxDriveMinutes {
					reasons = append(reasons, fmt.Sprintf("%.0f min drive for %s exceeds the %.0f min limit", worst/60, worstPerson, maxDriveMinutes))
				}
			}
		}
		if len(reasons) > 0 {
			rejected = append(rejected, Rejection{Restaurant: c.Name, Reasons: reasons})
		} else {
			valid = append(valid, c)
		}
	}
	return valid, rejected
}

func validateTool(maxDriveMinutes float64) Tool {
	return Tool{
		Name:        "validate_restaurants",
		Description: "Filter the current candidates against the group's allergies, dislikes, and the maximum acceptable drive time. Shrinks the candidate list to the survivors and reports why each rejected option was removed.",
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"max_drive_minutes": map[string]interface{}{
					"type":        "number",
					"description": "Optional override for the drive-time ceiling in minutes",
				},
			},
		},
		Run: func(_ context.Context, raw json.RawMessage, st *State) (interface{}, error) {
			var args struct {
				MaxDriveMinutes *float64 `json:"max_drive_minutes"`
			}
			if err := decodeArgs("validate_restaurants", raw, &args); err != nil {
				return nil, err
			}
			if len(st.Candidates) == 0 {
				return nil, &ValidationError{Tool: "validate_restaurants", Msg: "no candidate restaurants: search first"}
			}
			ceiling := maxDriveMinutes
			if args.MaxDriveMinutes != nil {
				ceiling = *args.MaxDriveMinutes
			}
			valid, rejected := ValidateCandidates(st.Candidates, st.Friends, st.DriveMatrix, ceiling)
			st.Candidates = valid
			st.LastRanking = nil
			return map[string]interface{}{
				"valid":    valid,
				"rejected": rejected,
			}, nil
		},
	}
}
