package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleFriends(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"friends": s.roster.All(),
	})
}
