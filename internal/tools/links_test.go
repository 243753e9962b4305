package tools

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestRideLinkCarriesDropPayload(t *testing.T) {
	reg := newTestRegistry(t)
	st := &State{Candidates: []Restaurant{
		{Name: "Thai Palace", Address: "789 Pine St", Lat: 37.78, Lng: -122.41},
	}}
	res, err := reg.Bind(st).Execute(context.Background(), "book_ride", `{"restaurant_name": "thai palace"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	link := res.(map[string]interface{})["ride_link"].(string)
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if parsed.Host != "m.uber.com" {
		t.Errorf("host = %s", parsed.Host)
	}
	var drop uberPlace
	if err := json.Unmarshal([]byte(parsed.Query().Get("drop[0]")), &drop); err != nil {
		t.Fatalf("drop payload: %v", err)
	}
	if drop.AddressLine1 != "Thai Palace" || drop.AddressLine2 != "789 Pine St" {
		t.Errorf("drop = %+v", drop)
	}
	if drop.Latitude != 37.78 || drop.Longitude != -122.41 {
		t.Errorf("drop coordinates = %+v", drop)
	}
	if drop.Provider != "uber_places" || drop.Source != "SEARCH" || drop.ID == "" {
		t.Errorf("drop metadata = %+v", drop)
	}
	if parsed.Query().Has("pickup") {
		t.Error("pickup should be absent when not requested")
	}
}

func TestRideLinkIncludesOptionalPickup(t *testing.T) {
	reg := newTestRegistry(t)
	st := &State{Candidates: []Restaurant{{Name: "Thai Palace", Lat: 37.78, Lng: -122.41}}}
	res, err := reg.Bind(st).Execute(context.Background(), "book_ride",
		`{"restaurant_name": "Thai Palace", "pickup": {"lat": 37.70, "lng": -122.45, "address": "Home"}}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	link := res.(map[string]interface{})["ride_link"].(string)
	parsed, _ := url.Parse(link)
	var pickup uberPlace
	if err := json.Unmarshal([]byte(parsed.Query().Get("pickup")), &pickup); err != nil {
		t.Fatalf("pickup payload: %v", err)
	}
	if pickup.AddressLine1 != "Home" || pickup.Latitude != 37.70 {
		t.Errorf("pickup = %+v", pickup)
	}
}

func TestDefaultDinnerTimeRollsToTomorrow(t *testing.T) {
	morning := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	if got := defaultDinnerTime(morning); got.Day() != 24 || got.Hour() != 19 {
		t.Errorf("morning default = %v", got)
	}
	evening := time.Date(2026, 8, 24, 21, 30, 0, 0, time.UTC)
	if got := defaultDinnerTime(evening); got.Day() != 25 || got.Hour() != 19 {
		t.Errorf("evening default = %v", got)
	}
	atSeven := time.Date(2026, 8, 24, 19, 0, 0, 0, time.UTC)
	if got := defaultDinnerTime(atSeven); got.Day() != 25 {
		t.Errorf("exactly 7pm should roll over, got %v", got)
	}
}

func TestCalendarToolEmitsLinkAndICS(t *testing.T) {
	fixed := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	reg, err := NewRegistry(Deps{
		Roster:         testRoster(),
		Places:         NewPlacesClient("", time.Second, time.Minute),
		Distance:       NewDistanceClient("", time.Second),
		Yelp:           NewYelpClient("", time.Second, time.Minute),
		Profiles:       testProfiles(),
		DefaultProfile: "safe",
		Now:            func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	st := &State{Candidates: []Restaurant{{Name: "Thai Palace", Address: "789 Pine St"}}}
	res, err := reg.Bind(st).Execute(context.Background(), "add_to_calendar", `{"restaurant_name": "Thai Palace"}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := res.(map[string]interface{})

	link := out["calendar_link"].(string)
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if parsed.Host != "calendar.google.com" {
		t.Errorf("host = %s", parsed.Host)
	}
	if got := parsed.Query().Get("dates"); got != "20260824T190000/20260824T210000" {
		t.Errorf("dates = %q", got)
	}
	if loc := parsed.Query().Get("location"); !strings.Contains(loc, "789 Pine St") {
		t.Errorf("location = %q", loc)
	}

	ics := out["ics"].(string)
	for _, want := range []string{"BEGIN:VCALENDAR", "BEGIN:VEVENT", "SUMMARY:Dinner at Thai Palace", "DTSTART"} {
		if !strings.Contains(ics, want) {
			t.Errorf("ics missing %q", want)
		}
	}
	if out["start"].(string) != "2026-08-24T19:00:00Z" {
		t.Errorf("start = %v", out["start"])
	}
}

func TestCalendarToolHonoursExplicitStart(t *testing.T) {
	reg := newTestRegistry(t)
	st := &State{Candidates: []Restaurant{{Name: "Thai Palace"}}}
	res, err := reg.Bind(st).Execute(context.Background(), "add_to_calendar",
		`{"restaurant_name": "Thai Palace", "start_time": "2026-09-01T18:30:00Z", "duration_minutes": 90}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out := res.(map[string]interface{})
	if out["start"].(string) != "2026-09-01T18:30:00Z" {
		t.Errorf("start = %v", out["start"])
	}
	if out["end"].(string) != "2026-09-01T20:00:00Z" {
		t.Errorf("end = %v", out["end"])
	}
}
