package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/openai/openai-go"
	cache "github.com/patrickmn/go-cache"
)

const maxSearchResults = 15

// PlacesClient talks to the Google Places API for candidate search and
// detail enrichment.
type PlacesClient struct {
	http    *core.HTTPClient
	apiKey  string
	BaseURL string
	cache   *cache.Cache
	logger  *log.Logger
}

func NewPlacesClient(apiKey string, timeout, cacheTTL time.Duration) *PlacesClient {
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Minute
	}
	return &PlacesClient{
		http:    core.NewHTTPClient(timeout, 1, 300*time.Millisecond),
		apiKey:  apiKey,
		BaseURL: "https://maps.googleapis.com/maps/api/place",
		cache:   cache.New(cacheTTL, cacheTTL),
		logger:  log.New(log.Writer(), "[PLACES] ", log.LstdFlags),
	}
}

type placesSearchResponse struct {
	Status  string `json:"status"`
	Results []struct {
		PlaceID  string `json:"place_id"`
		Name     string `json:"name"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		Rating           float64 `json:"rating"`
		UserRatingsTotal int     `json:"user_ratings_total"`
		PriceLevel       *int    `json:"price_level"`
		FormattedAddress string  `json:"formatted_address"`
		Vicinity         string  `json:"vicinity"`
	} `json:"results"`
}

// TextSearch queries candidate restaurants around a center point. Results
// are deduplicated by place_id and capped at maxSearchResults.
func (c *PlacesClient) TextSearch(ctx context.Context, query string, center Location, radiusMeters int, minPrice, maxPrice *int) ([]Restaurant, error) {
	if c.apiKey == "" {
		return nil, &ProviderError{Provider: "google places", Err: fmt.Errorf("api key not configured")}
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("location", fmt.Sprintf("%f,%f", center.Lat, center.Lng))
	if radiusMeters <= 0 {
		radiusMeters = 8000
	}
	q.Set("radius", fmt.Sprintf("%d", radiusMeters))
	q.Set("type", "restaurant")
	if minPrice != nil {
		q.Set("minprice", fmt.Sprintf("%d", *minPrice))
	}
	if maxPrice != nil {
		q.Set("maxprice", fmt.Sprintf("%d", *maxPrice))
	}
	q.Set("key", c.apiKey)

	var resp placesSearchResponse
	if err := c.http.DoJSON(ctx, "GET", c.BaseURL+"/textsearch/json?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, &ProviderError{Provider: "google places", Err: err}
	}
	if resp.Status != "OK" && resp.Status != "ZERO_RESULTS" {
		return nil, &ProviderError{Provider: "google places", Err: fmt.Errorf("status %s", resp.Status)}
	}

	seen := map[string]bool{}
	out := make([]Restaurant, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.PlaceID != "" {
			if seen[r.PlaceID] {
				continue
			}
			seen[r.PlaceID] = true
		}
		addr := r.FormattedAddress
		if addr == "" {
			addr = r.Vicinity
		}
		out = append(out, Restaurant{
			PlaceID:      r.PlaceID,
			Name:         r.Name,
			Address:      addr,
			Lat:          r.Geometry.Location.Lat,
			Lng:          r.Geometry.Location.Lng,
			Rating:       r.Rating,
			TotalRatings: r.UserRatingsTotal,
			PriceLevel:   r.PriceLevel,
		})
		if len(out) >= maxSearchResults {
			break
		}
	}
	return out, nil
}

type placesDetailsResponse struct {
	Status string                 `json:"status"`
	Result map[string]interface{} `json:"result"`
}

// Details fetches reviews/phone/hours/website for one place, TTL-cached.
func (c *PlacesClient) Details(ctx context.Context, placeID string) (map[string]interface{}, error) {
	if c.apiKey == "" {
		return nil, &ProviderError{Provider: "google places", Err: fmt.Errorf("api key not configured")}
	}
	if hit, ok := c.cache.Get(placeID); ok {
		return hit.(map[string]interface{}), nil
	}
	q := url.Values{}
	q.Set("place_id", placeID)
	q.Set("fields", "name,rating,formatted_phone_number,opening_hours,website,reviews,formatted_address")
	q.Set("key", c.apiKey)

	var resp placesDetailsResponse
	if err := c.http.DoJSON(ctx, "GET", c.BaseURL+"/details/json?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, &ProviderError{Provider: "google places", Err: err}
	}
	if resp.Status != "OK" {
		return nil, &ProviderError{Provider: "google places", Err: fmt.Errorf("status %s", resp.Status)}
	}
	c.cache.SetDefault(placeID, resp.Result)
	return resp.Result, nil
}

// searchCenter picks the point to search around: the centroid of the known
// friends, blended with the user's own location when present.
func searchCenter(st *State) (Location, bool) {
	var lat, lng float64
	var n int
	for _, f := range st.Friends {
		lat += f.Location.Lat
		lng += f.Location.Lng
		n++
	}
	if st.UserLocation != nil {
		lat += st.UserLocation.Lat
		lng += st.UserLocation.Lng
		n++
	}
	if n == 0 {
		return Location{}, false
	}
	return Location{Lat: lat / float64(n), Lng: lng / float64(n)}, true
}

func searchTool(client *PlacesClient) Tool {
	return Tool{
		Name:        "search_restaurants",
		Description: "Search for candidate restaurants. Defaults to the midpoint of everyone's locations; pass a center to override. Returns up to 15 deduplicated candidates with rating and price tier.",
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Cuisine or keyword search, e.g. 'thai food' or 'pizza'",
				},
				"center": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"lat": map[string]interface{}{"type": "number"},
						"lng": map[string]interface{}{"type": "number"},
					},
					"description": "Optional search center; defaults to the group midpoint",
				},
				"radius_meters": map[string]interface{}{"type": "integer"},
				"min_price":     map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 4},
				"max_price":     map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 4},
			},
			"required": []string{"query"},
		},
		Run: func(ctx context.Context, raw json.RawMessage, st *State) (interface{}, error) {
			var args struct {
				Query        string    `json:"query"`
				Center       *Location `json:"center"`
				RadiusMeters int       `json:"radius_meters"`
				MinPrice     *int      `json:"min_price"`
				MaxPrice     *int      `json:"max_price"`
			}
			if err := decodeArgs("search_restaurants", raw, &args); err != nil {
				return nil, err
			}
			if args.Query == "" {
				return nil, &ValidationError{Tool: "search_restaurants", Msg: "query is required"}
			}
			center := Location{}
			if args.Center != nil {
				center = *args.Center
			} else if c, ok := searchCenter(st); ok {
				center = c
			} else {
				return nil, &ValidationError{Tool: "search_restaurants", Msg: "no search center: fetch friends first or pass one explicitly"}
			}
			found, err := client.TextSearch(ctx, args.Query, center, args.RadiusMeters, args.MinPrice, args.MaxPrice)
			if err != nil {
				return nil, err
			}
			st.Candidates = found
			st.DriveMatrix = nil
			st.LastRanking = nil
			return map[string]interface{}{"restaurants": found, "count": len(found)}, nil
		},
	}
}

func detailsTool(client *PlacesClient) Tool {
	return Tool{
		Name:        "get_restaurant_details",
		Description: "Fetch reviews, phone number, opening hours and website for up to 5 restaurants from the current candidate list.",
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"restaurant_names": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
			},
			"required": []string{"restaurant_names"},
		},
		Run: func(ctx context.Context, raw json.RawMessage, st *State) (interface{}, error) {
			var args struct {
				RestaurantNames []string `json:"restaurant_names"`
			}
			if err := decodeArgs("get_restaurant_details", raw, &args); err != nil {
				return nil, err
			}
			if len(args.RestaurantNames) == 0 {
				return nil, &ValidationError{Tool: "get_restaurant_details", Msg: "restaurant_names must not be empty"}
			}
			if len(args.RestaurantNames) > 5 {
				args.RestaurantNames = args.RestaurantNames[:5]
			}
			out := make(map[string]interface{}, len(args.RestaurantNames))
			for _, name := range args.RestaurantNames {
				c, ok := st.FindCandidate(name)
				if !ok || c.PlaceID == "" {
					out[name] = map[string]string{"error": fmt.Sprintf("%s is not in the current candidate list", name)}
					continue
				}
				details, err := client.Details(ctx, c.PlaceID)
				if err != nil {
					if ctx.Err() != nil {
						return nil, err
					}
					out[name] = map[string]string{"error": err.Error()}
					continue
				}
				out[name] = details
			}
			return map[string]interface{}{"details": out}, nil
		},
	}
}
