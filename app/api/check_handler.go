package api

import (
	"github.com/gofiber/fiber/v2"
)

type CheckHandler struct{}

func NewCheckHandler() *CheckHandler {
	return &CheckHandler{}
}

func (h CheckHandler) HandleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "MediTime RAG server is running"})
}

func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// HandleEcho returns the request body as received. Bodies that are not
// JSON come back as a plain string.
func (h CheckHandler) HandleEcho(c *fiber.Ctx) error {
	var body any
	if err := c.BodyParser(&body); err != nil {
		body = string(c.Body())
	}
	return c.JSON(fiber.Map{"status": "ok", "echo": body})
}
