package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
)

type uberPlace struct {
	AddressLine1 string  `json:"addressLine1"`
	AddressLine2 string  `json:"addressLine2"`
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Provider     string  `json:"provider"`
}

func uberDeepLink(drop uberPlace, pickup *uberPlace) string {
	q := url.Values{}
	dropJSON, _ := json.Marshal(drop)
	q.Set("drop[0]", string(dropJSON))
	if pickup != nil {
		pickupJSON, _ := json.Marshal(pickup)
		q.Set("pickup", string(pickupJSON))
	}
	return "https://m.uber.com/go/product-selection?" + q.Encode()
}

func rideTool() Tool {
	return Tool{
		Name:        "book_ride",
		Description: "Build an Uber deep link to the chosen restaurant, optionally pinned to a pickup point.",
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"restaurant_name": map[string]interface{}{"type": "string"},
				"pickup": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"lat":     map[string]interface{}{"type": "number"},
						"lng":     map[string]interface{}{"type": "number"},
						"address": map[string]interface{}{"type": "string"},
					},
					"description": "Optional pickup location; omitted means the rider's current position",
				},
			},
			"required": []string{"restaurant_name"},
		},
		Run: func(_ context.Context, raw json.RawMessage, st *State) (interface{}, error) {
			var args struct {
				RestaurantName string    `json:"restaurant_name"`
				Pickup         *Location `json:"pickup"`
			}
			if err := decodeArgs("book_ride", raw, &args); err != nil {
				return nil, err
			}
			if args.RestaurantName == "" {
				return nil, &ValidationError{Tool: "book_ride", Msg: "restaurant_name is required"}
			}
			c, ok := st.FindCandidate(args.RestaurantName)
			if !ok {
				return nil, &ValidationError{Tool: "book_ride", Msg: args.RestaurantName + " is not in the current candidate list"}
			}
			drop := uberPlace{
				AddressLine1: c.Name,
				AddressLine2: c.Address,
				ID:           uuid.NewString(),
				Source:       "SEARCH",
				Latitude:     c.Lat,
				Longitude:    c.Lng,
				Provider:     "uber_places",
			}
			var pickup *uberPlace
			if args.Pickup != nil {
				pickup = &uberPlace{
					AddressLine1: args.Pickup.Address,
					ID:           uuid.NewString(),
					Source:       "SEARCH",
					Latitude:     args.Pickup.Lat,
					Longitude:    args.Pickup.Lng,
					Provider:     "uber_places",
				}
			}
			return map[string]interface{}{
				"restaurant": c.Name,
				"ride_link":  uberDeepLink(drop, pickup),
			}, nil
		},
	}
}

// defaultDinnerTime picks 19:00 today, or tomorrow when that has already
// passed.
func defaultDinnerTime(now time.Time) time.Time {
	dinner := time.Date(now.Year(), now.Month(), now.Day(), 19, 0, 0, 0, now.Location())
	if !dinner.After(now) {
		dinner = dinner.AddDate(0, 0, 1)
	}
	return dinner
}

const calendarTimeLayout = "20060102T150405"

func calendarTool(now func() time.Time) Tool {
	return Tool{
		Name:        "add_to_calendar",
		Description: "Build a Google Calendar link and an ICS attachment for the dinner. Defaults to 7pm (today if still ahead, otherwise tomorrow) for two hours.",
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"restaurant_name": map[string]interface{}{"type": "string"},
				"start_time": map[string]interface{}{
					"type":        "string",
					"description": "RFC 3339 start time; defaults to the next 7pm",
				},
				"duration_minutes": map[string]interface{}{
					"type":        "integer",
					"description": "Defaults to 120",
				},
				"title": map[string]interface{}{"type": "string"},
			},
			"required": []string{"restaurant_name"},
		},
		Run: func(_ context.Context, raw json.RawMessage, st *State) (interface{}, error) {
			var args struct {
				RestaurantName  string `json:"restaurant_name"`
				StartTime       string `json:"start_time"`
				DurationMinutes int    `json:"duration_minutes"`
				Title           string `json:"title"`
			}
			if err := decodeArgs("add_to_calendar", raw, &args); err != nil {
				return nil, err
			}
			if args.RestaurantName == "" {
				return nil, &ValidationError{Tool: "add_to_calendar", Msg: "restaurant_name is required"}
			}
			c, ok := st.FindCandidate(args.RestaurantName)
			if !ok {
				return nil, &ValidationError{Tool: "add_to_calendar", Msg: args.RestaurantName + " is not in the current candidate list"}
			}

			start := defaultDinnerTime(now())
			if args.StartTime != "" {
				parsed, err := time.Parse(time.RFC3339, args.StartTime)
				if err != nil {
					return nil, &ValidationError{Tool: "add_to_calendar", Msg: "start_time must be RFC 3339: " + err.Error()}
				}
				start = parsed
			}
			duration := 2 * time.Hour
			if args.DurationMinutes > 0 {
				duration = time.Duration(args.DurationMinutes) * time.Minute
			}
			end := start.Add(duration)
			title := args.Title
			if title == "" {
				title = "Dinner at " + c.Name
			}

			q := url.Values{}
			q.Set("action", "TEMPLATE")
			q.Set("text", title)
			q.Set("dates", fmt.Sprintf("%s/%s", start.Format(calendarTimeLayout), end.Format(calendarTimeLayout)))
			q.Set("location", fmt.Sprintf("%s, %s", c.Name, c.Address))
			googleLink := "https://calendar.google.com/calendar/render?" + q.Encode()

			cal := ics.NewCalendar()
			cal.SetMethod(ics.MethodRequest)
			event := cal.AddEvent(uuid.NewString())
			event.SetCreatedTime(now())
			event.SetStartAt(start)
			event.SetEndAt(end)
			event.SetSummary(title)
			event.SetLocation(fmt.Sprintf("%s, %s", c.Name, c.Address))

			return map[string]interface{}{
				"restaurant":    c.Name,
				"calendar_link": googleLink,
				"ics":           cal.Serialize(),
				"start":         start.Format(time.RFC3339),
				"end":           end.Format(time.RFC3339),
			}, nil
		},
	}
}
