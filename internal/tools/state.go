package tools

import (
	"strings"

	"github.com/mohammad-safakhou/tably/internal/ranking"
)

// Location is a point with an optional human-readable address.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Preferences captures a friend's food profile. Likes are soft signals;
// dislikes and allergies are hard filters.
type Preferences struct {
	Likes     []string `json:"likes"`
	Dislikes  []string `json:"dislikes"`
	Allergies []string `json:"allergies"`
}

// Friend is one roster participant.
type Friend struct {
	Name        string      `json:"name"`
	Location    Location    `json:"location"`
	Preferences Preferences `json:"preferences"`
}

// Restaurant is a search candidate; the ranking engine shares the shape.
type Restaurant = ranking.Candidate

// DriveLeg is one (person, restaurant) travel measurement. Unreachable
// legs carry the sentinel duration and "N/A" text.
type DriveLeg struct {
	Seconds float64 `json:"duration_seconds"`
	Text    string  `json:"duration_text"`
}

// UnreachableSeconds marks a leg the routing provider could not resolve.
const UnreachableSeconds = 99999

// State is the session's cached group snapshot: friends already fetched,
// the last candidate set, drive times and ranking. It has a single writer
// (the active loop) so no locking is needed.
type State struct {
	Friends      []Friend                       `json:"friends,omitempty"`
	UserLocation *Location                      `json:"user_location,omitempty"`
	Candidates   []Restaurant                   `json:"candidates,omitempty"`
	DriveMatrix  map[string]map[string]DriveLeg `json:"drive_matrix,omitempty"`
	LastRanking  []ranking.Ranked               `json:"last_ranking,omitempty"`
}

// RememberFriends merges newly fetched roster entries into the snapshot.
func (s *State) RememberFriends(friends []Friend) {
	for _, f := range friends {
		found := false
		for i, existing := range s.Friends {
			if strings.EqualFold(existing.Name, f.Name) {
				s.Friends[i] = f
				found = true
				break
			}
		}
		if !found {
			s.Friends = append(s.Friends, f)
		}
	}
}

// FindCandidate resolves a restaurant from the last search by name,
// case-insensitive.
func (s *State) FindCandidate(name string) (Restaurant, bool) {
	for _, c := range s.Candidates {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Restaurant{}, false
}
