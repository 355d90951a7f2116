package handlers

import "github.com/gofiber/fiber/v2"

// ServiceBanner is the plain-text body of GET /.
const ServiceBanner = "AWMP PDF Render Service OK"

// HandleRoot answers the root liveness check.
func HandleRoot(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).SendString(ServiceBanner)
}

// HandleHealth answers GET /health.
func HandleHealth(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
