package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/mohammad-safakhou/tably/internal/session"
	"github.com/mohammad-safakhou/tably/internal/tools"
)

type planRequest struct {
	Message   string          `json:"message"`
	SessionID string          `json:"session_id"`
	Location  *tools.Location `json:"user_location"`
}

// sseWriter frames steps onto one streaming response.
type sseWriter struct {
	resp    *echo.Response
	flusher http.Flusher
}

func (w *sseWriter) send(step core.Step) error {
	data, err := json.Marshal(step)
	if err != nil {
		return err
	}
	if _, err := w.resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) done() {
	_, _ = w.resp.Write([]byte("data: [DONE]\n\n"))
	w.flusher.Flush()
}

// sessionHistory adapts the store to the loop's history view. Turns are
// cached locally so mid-turn appends are visible to the next model round
// without a store read.
type sessionHistory struct {
	store session.Store
	id    string
	turns []core.Turn
}

func (h *sessionHistory) Turns() []core.Turn { return h.turns }

func (h *sessionHistory) Append(ctx context.Context, turns ...core.Turn) error {
	if err := h.store.AppendTurns(ctx, h.id, turns...); err != nil {
		return err
	}
	h.turns = append(h.turns, turns...)
	return nil
}

func (s *Server) handlePlan(c echo.Context) error {
	var req planRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	ctx := c.Request().Context()

	sess, err := s.store.Ensure(ctx, req.SessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "session store unavailable")
	}
	state := sess.State
	if state == nil {
		state = &tools.State{}
	}

	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	w := &sseWriter{resp: resp, flusher: flusher}
	defer w.done()

	// The session frame goes out before anything can fail, so the client
	// always learns its id.
	if err := w.send(core.SessionStep(sess.ID)); err != nil {
		return nil
	}

	history := &sessionHistory{store: s.store, id: sess.ID, turns: sess.Turns}

	// All writes for this message happen in Prepare, which the
	// orchestrator only calls once it holds the session's run slot. A
	// message rejected as busy therefore touches neither history nor the
	// tool state the active loop is mutating.
	runErr := s.orch.Run(ctx, core.RunRequest{
		SessionID: sess.ID,
		History:   history,
		Tools:     s.registry.Bind(state),
		Prepare: func(ctx context.Context) error {
			if req.Location != nil {
				state.UserLocation = req.Location
			}
			if len(history.turns) == 0 {
				if err := history.Append(ctx, core.Turn{Role: core.RoleSystem, Content: s.prompt}); err != nil {
					return err
				}
			}
			// The location rides along with the message so the model
			// knows where "Me" is without another tool call.
			message := req.Message
			if req.Location != nil {
				message = fmt.Sprintf("%s\n\n(My current location: %.4f, %.4f)", message, req.Location.Lat, req.Location.Lng)
			}
			return history.Append(ctx, core.Turn{Role: core.RoleUser, Content: message})
		},
	}, w.send)
	if errors.Is(runErr, core.ErrSessionBusy) {
		return nil
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		s.logger.Printf("plan turn for session %s: %v", sess.ID, runErr)
	}

	if err := s.store.SaveState(ctx, sess.ID, state); err != nil {
		s.logger.Printf("save state for session %s: %v", sess.ID, err)
	}
	return nil
}
