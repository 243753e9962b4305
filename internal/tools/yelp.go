package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/openai/openai-go"
	cache "github.com/patrickmn/go-cache"
)

// YelpClient enriches a restaurant with Yelp's rating, review excerpts,
// and a per-person price estimate scraped from the public menu page.
type YelpClient struct {
	http        *core.HTTPClient
	web         *http.Client
	apiKey      string
	BaseURL     string
	MenuBaseURL string
	cache       *cache.Cache
	logger      *log.Logger
}

func NewYelpClient(apiKey string, timeout, cacheTTL time.Duration) *YelpClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Minute
	}
	return &YelpClient{
		http:        core.NewHTTPClient(timeout, 1, 300*time.Millisecond),
		web:         &http.Client{Timeout: timeout},
		apiKey:      apiKey,
		BaseURL:     "https://api.yelp.com/v3",
		MenuBaseURL: "https://www.yelp.com/menu",
		cache:       cache.New(cacheTTL, cacheTTL),
		logger:      log.New(log.Writer(), "[YELP] ", log.LstdFlags),
	}
}

type yelpBusiness struct {
	ID          string  `json:"id"`
	Alias       string  `json:"alias"`
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	Price       string  `json:"price"`
	URL         string  `json:"url"`
}

// Match finds the Yelp listing closest to the named restaurant.
func (c *YelpClient) Match(ctx context.Context, name string, lat, lng float64) (*yelpBusiness, error) {
	if c.apiKey == "" {
		return nil, &ProviderError{Provider: "yelp", Err: fmt.Errorf("api key not configured")}
	}
	q := url.Values{}
	q.Set("term", name)
	q.Set("latitude", fmt.Sprintf("%f", lat))
	q.Set("longitude", fmt.Sprintf("%f", lng))
	q.Set("limit", "1")

	var resp struct {
		Businesses []yelpBusiness `json:"businesses"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := c.http.DoJSON(ctx, "GET", c.BaseURL+"/businesses/search?"+q.Encode(), headers, nil, &resp); err != nil {
		return nil, &ProviderError{Provider: "yelp", Err: err}
	}
	if len(resp.Businesses) == 0 {
		return nil, &ProviderError{Provider: "yelp", Err: fmt.Errorf("no match for %s", name)}
	}
	return &resp.Businesses[0], nil
}

// Reviews pulls up to three review excerpts for a matched business.
func (c *YelpClient) Reviews(ctx context.Context, businessID string) ([]string, error) {
	var resp struct {
		Reviews []struct {
			Text   string  `json:"text"`
			Rating float64 `json:"rating"`
		} `json:"reviews"`
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	u := fmt.Sprintf("%s/businesses/%s/reviews?limit=3", c.BaseURL, url.PathEscape(businessID))
	if err := c.http.DoJSON(ctx, "GET", u, headers, nil, &resp); err != nil {
		return nil, &ProviderError{Provider: "yelp", Err: err}
	}
	out := make([]string, 0, len(resp.Reviews))
	for _, r := range resp.Reviews {
		out = append(out, r.Text)
	}
	return out, nil
}

var (
	menuPriceRe    = regexp.MustCompile(`\$(\d+(?:\.\d{2})?)`)
	popularDishRe  = regexp.MustCompile(`(?i)(?:try|order|get|loved|recommend)\s+the\s+([a-zA-Z][a-zA-Z' ]{2,40}?)(?:[.,!?]|\s+(?:and|or|with)\b)`)
	dishTrimSuffix = regexp.MustCompile(`\s+(?:here|again|too)$`)
)

// MenuEstimate scrapes the public menu page and returns the median listed
// price as a rough per-person estimate.
func (c *YelpClient) MenuEstimate(ctx context.Context, alias string) (float64, error) {
	pageURL := c.MenuBaseURL + "/" + url.PathEscape(alias)
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.web.Do(req)
	if err != nil {
		return 0, &ProviderError{Provider: "yelp menu", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, &ProviderError{Provider: "yelp menu", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	parsed, _ := url.Parse(pageURL)
	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return 0, &ProviderError{Provider: "yelp menu", Err: err}
	}
	matches := menuPriceRe.FindAllStringSubmatch(article.TextContent, -1)
	prices := make([]float64, 0, len(matches))
	for _, m := range matches {
		p, err := strconv.ParseFloat(m[1], 64)
		if err != nil || p <= 0 || p > 500 {
			continue
		}
		prices = append(prices, p)
	}
	if len(prices) == 0 {
		return 0, &ProviderError{Provider: "yelp menu", Err: fmt.Errorf("no prices on menu page")}
	}
	sort.Float64s(prices)
	mid := len(prices) / 2
	if len(prices)%2 == 0 {
		return (prices[mid-1] + prices[mid]) / 2, nil
	}
	return prices[mid], nil
}

// popularDishes mines review excerpts for dishes people tell each other
// to order.
func popularDishes(reviews []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range reviews {
		for _, m := range popularDishRe.FindAllStringSubmatch(r, -1) {
			dish := strings.TrimSpace(dishTrimSuffix.ReplaceAllString(m[1], ""))
			key := strings.ToLower(dish)
			if dish == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, dish)
		}
	}
	return out
}

func yelpTool(client *YelpClient) Tool {
	return Tool{
		Name:        "get_yelp_info",
		Description: "Pull Yelp's rating, recent review excerpts, popular dishes, and an estimated per-person price for one candidate restaurant.",
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"restaurant_name": map[string]interface{}{"type": "string"},
			},
			"required": []string{"restaurant_name"},
		},
		Run: func(ctx context.Context, raw json.RawMessage, st *State) (interface{}, error) {
			var args struct {
				RestaurantName string `json:"restaurant_name"`
			}
			if err := decodeArgs("get_yelp_info", raw, &args); err != nil {
				return nil, err
			}
			if args.RestaurantName == "" {
				return nil, &ValidationError{Tool: "get_yelp_info", Msg: "restaurant_name is required"}
			}
			c, ok := st.FindCandidate(args.RestaurantName)
			if !ok {
				return nil, &ValidationError{Tool: "get_yelp_info", Msg: args.RestaurantName + " is not in the current candidate list"}
			}
			cacheKey := strings.ToLower(c.Name)
			if hit, found := client.cache.Get(cacheKey); found {
				return hit, nil
			}

			biz, err := client.Match(ctx, c.Name, c.Lat, c.Lng)
			if err != nil {
				return nil, err
			}
			out := map[string]interface{}{
				"name":         biz.Name,
				"rating":       biz.Rating,
				"review_count": biz.ReviewCount,
				"price":        biz.Price,
				"url":          biz.URL,
			}

			// Each enrichment stage degrades on its own; a dead menu page
			// must not cost us the reviews.
			reviews, err := client.Reviews(ctx, biz.ID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				client.logger.Printf("reviews for %s: %v", c.Name, err)
				out["reviews_error"] = err.Error()
			} else {
				out["reviews"] = reviews
				if dishes := popularDishes(reviews); len(dishes) > 0 {
					out["popular_dishes"] = dishes
				}
			}

			if estimate, err := client.MenuEstimate(ctx, biz.Alias); err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				client.logger.Printf("menu for %s: %v", c.Name, err)
			} else {
				out["estimated_price_per_person"] = estimate
			}

			client.cache.SetDefault(cacheKey, out)
			return out, nil
		},
	}
}
