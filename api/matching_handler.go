package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/scout/pkg/matching"
)

// handleMatching handles POST /api/matching. The workflow never fails; an
// unavailable workflow answers with sample matches.
func (s *Server) handleMatching(c *fiber.Ctx) error {
	var req matching.Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "request body must be a JSON object",
		})
	}

	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: err.Error(),
		})
	}

	return c.JSON(s.deps.Matcher.Match(c.UserContext(), req))
}
