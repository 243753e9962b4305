package core

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
)

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolInvocation is a structured tool request emitted by the model.
type ToolInvocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Turn is one entry in a session's conversation history. Tool turns carry
// the id of the invocation they answer.
type Turn struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []ToolInvocation `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
}

// StepType tags one streamed agent event.
type StepType string

const (
	StepSession      StepType = "session"
	StepTextDelta    StepType = "text_delta"
	StepThinkingDone StepType = "thinking_done"
	StepFinalDone    StepType = "final_done"
	StepToolCall     StepType = "tool_call"
	StepToolResult   StepType = "tool_result"
	StepError        StepType = "error"
)

// Step is one agent event, framed on the wire as {"type","content"}.
type Step struct {
	Type    StepType    `json:"type"`
	Content interface{} `json:"content"`
}

func SessionStep(id string) Step     { return Step{Type: StepSession, Content: id} }
func TextDeltaStep(text string) Step { return Step{Type: StepTextDelta, Content: text} }
func ThinkingDoneStep(s string) Step { return Step{Type: StepThinkingDone, Content: s} }
func FinalDoneStep(s string) Step    { return Step{Type: StepFinalDone, Content: s} }
func ErrorStep(msg string) Step      { return Step{Type: StepError, Content: msg} }

func ToolCallStep(name string, args interface{}) Step {
	return Step{Type: StepToolCall, Content: map[string]interface{}{"tool": name, "args": args}}
}

func ToolResultStep(name string, result interface{}) Step {
	return Step{Type: StepToolResult, Content: map[string]interface{}{"tool": name, "result": result}}
}

// History is the session-scoped conversation log the loop reads and appends
// to. Appends are atomic per session; the orchestrator is its only writer
// while a turn is active.
type History interface {
	Turns() []Turn
	Append(ctx context.Context, turns ...Turn) error
}

// ToolExecutor dispatches one named tool call against the session's state.
// Implementations fold argument and provider failures into the returned
// result rather than erroring; a non-nil error means the call could not
// complete at all (cancellation, deadline).
type ToolExecutor interface {
	Definitions() []openai.ChatCompletionToolParam
	Execute(ctx context.Context, name string, arguments string) (interface{}, error)
}

// ErrSessionBusy is returned when a second message arrives for a session
// whose loop is still running. Concurrent messages are rejected, not queued.
var ErrSessionBusy = errors.New("planning already in progress for this session")

// ErrModelProtocol is returned when the model's response cannot be parsed
// as text or a well-formed tool call. The in-flight turn is discarded.
var ErrModelProtocol = errors.New("model response could not be parsed")
