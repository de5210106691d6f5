package api

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/scout/pkg/search"
)

// handleCompanySearch handles GET /api/companies/search requests.
// Query parameters:
//   - q (optional): free-text query
//   - industry, size, region, tech (optional): repeated or comma separated
//   - limit (optional, default 20, max 100)
func (s *Server) handleCompanySearch(c *fiber.Ctx) error {
	filters := search.Filters{}
	for _, facet := range search.Facets {
		if values := queryValues(c, facet); len(values) > 0 {
			filters[facet] = values
		}
	}

	limit := search.DefaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error: "limit must be a positive integer",
			})
		}
		limit = parsed
	}

	cards := s.deps.Search.Search(c.UserContext(), filters, c.Query("q"), limit)
	return c.JSON(cards)
}

// queryValues collects every value of a repeated query parameter, splitting
// each on commas.
func queryValues(c *fiber.Ctx, key string) []string {
	var out []string
	for _, raw := range c.Context().QueryArgs().PeekMulti(key) {
		for part := range strings.SplitSeq(string(raw), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
