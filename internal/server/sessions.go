package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// handleDeleteSession clears a conversation. Unknown ids are fine; the
// caller's goal (a clean slate) is met either way.
func (s *Server) handleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if err := s.store.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "session store unavailable")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}
