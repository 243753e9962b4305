package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/tably/config"
	"github.com/mohammad-safakhou/tably/internal/agent/telemetry"
	"github.com/mohammad-safakhou/tably/internal/budget"
)

const budgetFinalNotice = "I had to stop before finishing every lookup, so this picture may be incomplete. " +
	"Here's where the search stands so far; ask me to continue and I'll keep digging."

// Orchestrator drives the tool-use loop: it repeatedly asks the model for
// the next action, executes requested tools, folds results into history,
// and stops when the model answers in plain text or the turn budget runs out.
type Orchestrator struct {
	provider     LLMProvider
	model        string
	budget       budget.Config
	modelTimeout time.Duration
	toolTimeout  time.Duration
	logger       *log.Logger
	telemetry    *telemetry.Telemetry

	// the loop is single-flight per session; entries exist only while a
	// run is active
	runMu   sync.Mutex
	running map[string]struct{}
}

// RunRequest is one user message against one session. Prepare, when set,
// runs after the session slot is claimed and before the first model
// round; history writes for the incoming message belong there so a
// rejected concurrent message leaves no trace.
type RunRequest struct {
	SessionID string
	History   History
	Tools     ToolExecutor
	Prepare   func(ctx context.Context) error
}

// NewOrchestrator wires the loop from config.
func NewOrchestrator(cfg *config.Config, provider LLMProvider, logger *log.Logger, tele *telemetry.Telemetry) (*Orchestrator, error) {
	model := cfg.LLM.Routing.Planning
	if model == "" {
		model = cfg.LLM.Routing.Fallback
	}
	if model == "" {
		return nil, fmt.Errorf("llm.routing.planning (or fallback) must name a model")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	var bc budget.Config
	if cfg.Tools.MaxToolCalls > 0 {
		v := int64(cfg.Tools.MaxToolCalls)
		bc.MaxToolCalls = &v
	}
	if cfg.Tools.MaxTurnSeconds > 0 {
		v := int64(cfg.Tools.MaxTurnSeconds)
		bc.MaxTimeSeconds = &v
	}
	if err := bc.Validate(); err != nil {
		return nil, err
	}
	var modelTimeout time.Duration
	for _, p := range cfg.LLM.Providers {
		if p.Timeout > 0 {
			modelTimeout = p.Timeout
		}
	}
	toolTimeout := cfg.Tools.Timeout
	if toolTimeout == 0 {
		toolTimeout = 15 * time.Second
	}
	return &Orchestrator{
		provider:     provider,
		model:        model,
		budget:       bc,
		modelTimeout: modelTimeout,
		toolTimeout:  toolTimeout,
		logger:       logger,
		telemetry:    tele,
		running:      make(map[string]struct{}),
	}, nil
}

// beginRun claims the session's run slot; false means a turn is active.
func (o *Orchestrator) beginRun(id string) bool {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if _, busy := o.running[id]; busy {
		return false
	}
	o.running[id] = struct{}{}
	return true
}

func (o *Orchestrator) endRun(id string) {
	o.runMu.Lock()
	delete(o.running, id)
	o.runMu.Unlock()
}

// Run drives one user message to completion, emitting steps in causal
// order. emit returning an error (client gone) aborts the turn before the
// next tool call; history keeps only fully appended rounds.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, emit func(Step) error) error {
	if !o.beginRun(req.SessionID) {
		_ = emit(ErrorStep("planning already in progress for this session"))
		return ErrSessionBusy
	}
	defer o.endRun(req.SessionID)

	if req.Prepare != nil {
		if err := req.Prepare(ctx); err != nil {
			_ = emit(ErrorStep("failed to record the message"))
			return fmt.Errorf("prepare turn: %w", err)
		}
	}

	mon := budget.NewMonitor(o.budget)

	for {
		if err := mon.CheckTime(); err != nil {
			o.logger.Printf("session %s: %v", req.SessionID, err)
			return o.synthesizeFinal(ctx, req, emit)
		}

		mt, err := o.modelRound(ctx, req, emit)
		if err != nil {
			o.telemetry.RecordTurn(false)
			if errors.Is(err, context.Canceled) {
				return err
			}
			o.logger.Printf("session %s: model round failed: %v", req.SessionID, err)
			_ = emit(ErrorStep(fmt.Sprintf("the planner hit a problem: %v", err)))
			return err
		}

		if len(mt.ToolCalls) == 0 {
			if err := req.History.Append(ctx, Turn{Role: RoleAssistant, Content: mt.Content}); err != nil {
				_ = emit(ErrorStep("failed to record the answer"))
				return fmt.Errorf("append final turn: %w", err)
			}
			o.telemetry.RecordTurn(true)
			return emit(FinalDoneStep(mt.Content))
		}

		// Any text ahead of a tool call is thinking, not the answer.
		if mt.Content != "" {
			if err := emit(ThinkingDoneStep(mt.Content)); err != nil {
				return err
			}
		}
		for _, tc := range mt.ToolCalls {
			if tc.Name == "" {
				o.telemetry.RecordTurn(false)
				_ = emit(ErrorStep("the model produced a malformed tool request"))
				return ErrModelProtocol
			}
		}

		// The round (assistant request + every tool result) is buffered and
		// appended in one shot so an aborted turn leaves no partial entries.
		round := []Turn{{Role: RoleAssistant, Content: mt.Content, ToolCalls: mt.ToolCalls}}
		budgetHit := false
		for _, tc := range mt.ToolCalls {
			if !budgetHit {
				if err := mon.AddToolCall(); err != nil {
					o.logger.Printf("session %s: %v", req.SessionID, err)
					budgetHit = true
				}
			}
			if budgetHit {
				round = append(round, toolTurn(tc, map[string]string{"error": "tool budget exhausted"}))
				continue
			}

			if err := emit(ToolCallStep(tc.Name, parseArgs(tc.Arguments))); err != nil {
				return err
			}
			started := time.Now()
			tctx, cancel := context.WithTimeout(ctx, o.toolTimeout)
			result, execErr := req.Tools.Execute(tctx, tc.Name, tc.Arguments)
			cancel()
			o.telemetry.RecordToolExecution(tc.Name, time.Since(started), execErr == nil)
			if execErr != nil {
				if ctx.Err() != nil || errors.Is(execErr, context.DeadlineExceeded) {
					o.telemetry.RecordTurn(false)
					_ = emit(ErrorStep(fmt.Sprintf("tool %s timed out", tc.Name)))
					return fmt.Errorf("tool %s: %w", tc.Name, execErr)
				}
				// Folded back so the model can adapt to the failure.
				result = map[string]string{"error": execErr.Error()}
			}
			if err := emit(ToolResultStep(tc.Name, result)); err != nil {
				return err
			}
			round = append(round, toolTurn(tc, result))
		}

		if err := req.History.Append(ctx, round...); err != nil {
			_ = emit(ErrorStep("failed to record tool results"))
			return fmt.Errorf("append tool round: %w", err)
		}
		if budgetHit {
			return o.synthesizeFinal(ctx, req, emit)
		}
	}
}

// synthesizeFinal ends an over-budget turn with an error-free final answer
// that admits the search is incomplete.
func (o *Orchestrator) synthesizeFinal(ctx context.Context, req RunRequest, emit func(Step) error) error {
	if err := req.History.Append(ctx, Turn{Role: RoleAssistant, Content: budgetFinalNotice}); err != nil {
		return fmt.Errorf("append synthesized turn: %w", err)
	}
	o.telemetry.RecordTurn(true)
	return emit(FinalDoneStep(budgetFinalNotice))
}

func (o *Orchestrator) modelRound(ctx context.Context, req RunRequest, emit func(Step) error) (ModelTurn, error) {
	mctx := ctx
	if o.modelTimeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, o.modelTimeout)
		defer cancel()
	}
	started := time.Now()
	mt, err := o.provider.StreamTurn(mctx, o.model, req.History.Turns(), req.Tools.Definitions(), func(delta string) error {
		return emit(TextDeltaStep(delta))
	})
	if err != nil {
		return mt, err
	}
	o.telemetry.RecordLLMUsage(o.model, time.Since(started), mt.InputTokens, mt.OutputTokens,
		o.provider.CalculateCost(o.model, mt.InputTokens, mt.OutputTokens))
	return mt, nil
}

func toolTurn(tc ToolInvocation, result interface{}) Turn {
	b, err := json.Marshal(result)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return Turn{Role: RoleTool, ToolCallID: tc.ID, ToolName: tc.Name, Content: string(b)}
}

// parseArgs decodes tool arguments for display; raw text is passed through
// when the payload is not valid JSON.
func parseArgs(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
