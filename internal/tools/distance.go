package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/openai/openai-go"
)

// DistanceClient talks to the Google Distance Matrix API.
type DistanceClient struct {
	http    *core.HTTPClient
	apiKey  string
	BaseURL string
	logger  *log.Logger
}

func NewDistanceClient(apiKey string, timeout time.Duration) *DistanceClient {
	return &DistanceClient{
		http:    core.NewHTTPClient(timeout, 1, 300*time.Millisecond),
		apiKey:  apiKey,
		BaseURL: "https://maps.googleapis.com/maps/api/distancematrix",
		logger:  log.New(log.Writer(), "[DISTANCE] ", log.LstdFlags),
	}
}

type distanceMatrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration struct {
				Value float64 `json:"value"`
				Text  string  `json:"text"`
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

// DriveLegs measures one origin against every destination. A leg the
// provider cannot resolve comes back as unreachable instead of failing
// the whole row.
func (c *DistanceClient) DriveLegs(ctx context.Context, origin Location, dests []Location) ([]DriveLeg, error) {
	if c.apiKey == "" {
		return nil, &ProviderError{Provider: "distance matrix", Err: fmt.Errorf("api key not configured")}
	}
	destParts := make([]string, len(dests))
	for i, d := range dests {
		destParts[i] = fmt.Sprintf("%f,%f", d.Lat, d.Lng)
	}
	q := url.Values{}
	q.Set("origins", fmt.Sprintf("%f,%f", origin.Lat, origin.Lng))
	q.Set("destinations", strings.Join(destParts, "|"))
	q.Set("mode", "driving")
	q.Set("key", c.apiKey)

	var resp distanceMatrixResponse
	if err := c.http.DoJSON(ctx, "GET", c.BaseURL+"/json?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, &ProviderError{Provider: "distance matrix", Err: err}
	}
	if resp.Status != "OK" || len(resp.Rows) == 0 {
		return nil, &ProviderError{Provider: "distance matrix", Err: fmt.Errorf("status %s", resp.Status)}
	}

	legs := make([]DriveLeg, len(dests))
	for i := range dests {
		if i >= len(resp.Rows[0].Elements) {
			legs[i] = DriveLeg{Seconds: UnreachableSeconds, Text: "N/A"}
			continue
		}
		el := resp.Rows[0].Elements[i]
		if el.Status != "OK" {
			legs[i] = DriveLeg{Seconds: UnreachableSeconds, Text: "N/A"}
			continue
		}
		legs[i] = DriveLeg{Seconds: el.Duration.Value, Text: el.Duration.Text}
	}
	return legs, nil
}

func driveTimesTool(client *DistanceClient) Tool {
	return Tool{
		Name:        "calculate_drive_times",
		Description: "Compute how long each person would drive to each candidate restaurant. Uses every friend fetched so far plus the requesting user's own location when known.",
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"restaurant_names": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional subset; defaults to every current candidate",
				},
			},
		},
		Run: func(ctx context.Context, raw json.RawMessage, st *State) (interface{}, error) {
			var args struct {
				RestaurantNames []string `json:"restaurant_names"`
			}
			if err := decodeArgs("calculate_drive_times", raw, &args); err != nil {
				return nil, err
			}
			candidates := st.Candidates
			if len(args.RestaurantNames) > 0 {
				candidates = candidates[:0:0]
				for _, name := range args.RestaurantNames {
					if c, ok := st.FindCandidate(name); ok {
						candidates = append(candidates, c)
					}
				}
			}
			if len(candidates) == 0 {
				return nil, &ValidationError{Tool: "calculate_drive_times", Msg: "no candidate restaurants: search first"}
			}

			type origin struct {
				name string
				loc  Location
			}
			origins := make([]origin, 0, len(st.Friends)+1)
			for _, f := range st.Friends {
				origins = append(origins, origin{name: f.Name, loc: f.Location})
			}
			if st.UserLocation != nil {
				origins = append(origins, origin{name: "Me", loc: *st.UserLocation})
			}
			if len(origins) == 0 {
				return nil, &ValidationError{Tool: "calculate_drive_times", Msg: "no origins: fetch friends first"}
			}

			dests := make([]Location, len(candidates))
			for i, c := range candidates {
				dests[i] = Location{Lat: c.Lat, Lng: c.Lng}
			}

			// Fan out one row per origin; the matrix is keyed, so rows can
			// complete in any order and still reassemble deterministically.
			rows := make(map[string][]DriveLeg, len(origins))
			var mu sync.Mutex
			var wg sync.WaitGroup
			for _, o := range origins {
				wg.Add(1)
				go func(o origin) {
					defer wg.Done()
					legs, err := client.DriveLegs(ctx, o.loc, dests)
					if err != nil {
						client.logger.Printf("row for %s failed: %v", o.name, err)
						legs = make([]DriveLeg, len(dests))
						for i := range legs {
							legs[i] = DriveLeg{Seconds: UnreachableSeconds, Text: "N/A"}
						}
					}
					mu.Lock()
					rows[o.name] = legs
					mu.Unlock()
				}(o)
			}
			wg.Wait()
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			matrix := make(map[string]map[string]DriveLeg, len(candidates))
			for i, c := range candidates {
				perPerson := make(map[string]DriveLeg, len(origins))
				for _, o := range origins {
					perPerson[o.name] = rows[o.name][i]
				}
				matrix[c.Name] = perPerson
			}
			if st.DriveMatrix == nil {
				st.DriveMatrix = matrix
			} else {
				for name, row := range matrix {
					st.DriveMatrix[name] = row
				}
			}
			return map[string]interface{}{"drive_times": matrix}, nil
		},
	}
}
