package api

import (
	"github.com/gofiber/fiber/v2"

	"medirag/rag"
)

type CheckHandler struct {
	res *rag.Resources
}

func NewCheckHandler(res *rag.Resources) *CheckHandler {
	return &CheckHandler{
		res: res,
	}
}

// HandleHealthy reports liveness plus per-resource readiness. Readiness
// reflects what has been initialized so far; it never triggers
// initialization itself.
func (h *CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"result":    "ok",
		"resources": h.res.Status(),
	})
}

// HandleWarmup starts a background warmup of every resource. force=true
// drops cached state first, including cached failures.
func (h *CheckHandler) HandleWarmup(c *fiber.Ctx) error {
	force := c.QueryBool("force")
	h.res.WarmupAsync(force)
	return c.JSON(fiber.Map{"result": "warming up", "force": force})
}
