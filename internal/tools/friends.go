package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/samber/lo"
)

// Roster is the read-only friend directory loaded at startup.
type Roster struct {
	friends []Friend
	byName  map[string]Friend
}

// LoadRoster reads the roster file. Both a bare array and a
// {"friends": [...]} wrapper are accepted.
func LoadRoster(path string) (*Roster, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	var friends []Friend
	if err := json.Unmarshal(b, &friends); err != nil {
		var wrapper struct {
			Friends []Friend `json:"friends"`
		}
		if err2 := json.Unmarshal(b, &wrapper); err2 != nil {
			return nil, fmt.Errorf("parse roster %s: %w", path, err)
		}
		friends = wrapper.Friends
	}
	return NewRoster(friends), nil
}

// NewRoster builds a roster from in-memory entries.
func NewRoster(friends []Friend) *Roster {
	return &Roster{
		friends: friends,
		byName: lo.SliceToMap(friends, func(f Friend) (string, Friend) {
			return strings.ToLower(f.Name), f
		}),
	}
}

// All returns every roster entry.
func (r *Roster) All() []Friend {
	return append([]Friend(nil), r.friends...)
}

// Get resolves a friend by name, case-insensitive.
func (r *Roster) Get(name string) (Friend, bool) {
	f, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

func friendsTool(roster *Roster) Tool {
	return Tool{
		Name:        "get_friends_info",
		Description: "Look up the locations and food preferences of the named friends. Call this first to learn where everyone is and what they can or cannot eat.",
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"friend_names": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Names of the friends to look up",
				},
			},
			"required": []string{"friend_names"},
		},
		Run: func(_ context.Context, raw json.RawMessage, st *State) (interface{}, error) {
			var args struct {
				FriendNames []string `json:"friend_names"`
			}
			if err := decodeArgs("get_friends_info", raw, &args); err != nil {
				return nil, err
			}
			if len(args.FriendNames) == 0 {
				return nil, &ValidationError{Tool: "get_friends_info", Msg: "friend_names must not be empty"}
			}
			out := make(map[string]interface{}, len(args.FriendNames))
			var found []Friend
			for _, name := range args.FriendNames {
				f, ok := roster.Get(name)
				if !ok {
					out[name] = map[string]string{"error": fmt.Sprintf("No info found for %s", name)}
					continue
				}
				out[f.Name] = f
				found = append(found, f)
			}
			st.RememberFriends(found)
			return map[string]interface{}{"friends": out}, nil
		},
	}
}
