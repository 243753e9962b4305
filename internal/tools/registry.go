// Package tools implements the closed tool set the planning agent can
// invoke: roster lookup, restaurant search, drive times, validation,
// ranking, enrichment, and link generators.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/mohammad-safakhou/tably/internal/ranking"
	"github.com/openai/openai-go"
)

// RequiredTools is the closed set the loop depends on; registry
// construction fails if any is missing.
var RequiredTools = []string{
	"get_friends_info",
	"search_restaurants",
	"calculate_drive_times",
	"validate_restaurants",
	"rank_and_score",
	"get_restaurant_details",
	"get_yelp_info",
	"book_ride",
	"add_to_calendar",
}

// Tool is one registry entry: a declared argument schema plus an executor
// run against the session's snapshot.
type Tool struct {
	Name        string
	Description string
	Parameters  openai.FunctionParameters
	Run         func(ctx context.Context, args json.RawMessage, st *State) (interface{}, error)
}

// Deps carries the external collaborators the executors call.
type Deps struct {
	Roster          *Roster
	Places          *PlacesClient
	Distance        *DistanceClient
	Yelp            *YelpClient
	Profiles        map[string]ranking.Weights
	DefaultProfile  string
	MaxDriveMinutes float64
	Now             func() time.Time
}

// Registry holds the tool set keyed by name.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *log.Logger
}

// NewRegistry wires every executor and verifies the required set is complete.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DefaultProfile == "" {
		deps.DefaultProfile = "safe"
	}
	r := &Registry{
		tools:  make(map[string]Tool),
		logger: log.New(log.Writer(), "[TOOLS] ", log.LstdFlags),
	}
	r.register(friendsTool(deps.Roster))
	r.register(searchTool(deps.Places))
	r.register(driveTimesTool(deps.Distance))
	r.register(validateTool(deps.MaxDriveMinutes))
	r.register(rankTool(deps.Profiles, deps.DefaultProfile))
	r.register(detailsTool(deps.Places))
	r.register(yelpTool(deps.Yelp))
	r.register(rideTool())
	r.register(calendarTool(deps.Now))

	for _, name := range RequiredTools {
		if _, ok := r.tools[name]; !ok {
			return nil, fmt.Errorf("required tool %s is not registered", name)
		}
	}
	return r, nil
}

func (r *Registry) register(t Tool) {
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

// Bind attaches the registry to one session's snapshot for the duration of
// a turn.
func (r *Registry) Bind(st *State) core.ToolExecutor {
	return &Runner{reg: r, state: st}
}

// Runner executes tools against one session's state.
type Runner struct {
	reg   *Registry
	state *State
}

// Definitions yields the OpenAI tool schema list in registration order.
func (x *Runner) Definitions() []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(x.reg.order))
	for _, name := range x.reg.order {
		t := x.reg.tools[name]
		out = append(out, core.ToolDef(t.Name, t.Description, t.Parameters))
	}
	return out
}

// Execute validates arguments and dispatches one call. Unknown tools and
// argument or provider failures come back as structured error results so
// the model can adapt; only cancellation propagates as an error.
func (x *Runner) Execute(ctx context.Context, name, arguments string) (interface{}, error) {
	t, ok := x.reg.tools[name]
	if !ok {
		return map[string]string{"error": "Unknown tool: " + name}, nil
	}
	args, err := repairArgs(arguments)
	if err != nil {
		x.reg.logger.Printf("%s: bad arguments: %v", name, err)
		return map[string]string{"error": fmt.Sprintf("invalid arguments for %s: %v", name, err)}, nil
	}
	result, err := t.Run(ctx, args, x.state)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		x.reg.logger.Printf("%s: %v", name, err)
		return map[string]string{"error": err.Error()}, nil
	}
	return result, nil
}

// repairArgs accepts slightly malformed model JSON (trailing commas,
// single quotes) before giving up.
func repairArgs(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage("{}"), nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}
	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, fmt.Errorf("unparseable JSON: %w", err)
	}
	if !json.Valid([]byte(fixed)) {
		return nil, fmt.Errorf("unparseable JSON")
	}
	return json.RawMessage(fixed), nil
}

func decodeArgs(tool string, raw json.RawMessage, into interface{}) error {
	if err := json.Unmarshal(raw, into); err != nil {
		return &ValidationError{Tool: tool, Msg: err.Error()}
	}
	return nil
}
