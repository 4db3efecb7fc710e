package handlers

import (
	"time"

	"github.com/andesco/pageproxy/pkg/history"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	clientCookieName = "proxy_client"
	clientLocal      = "client"
)

// ClientID makes sure every request carries a client id, issuing a cookie on
// the first visit. History is kept per client id.
func ClientID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Cookies(clientCookieName)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			c.Cookie(&fiber.Cookie{
				Name:     clientCookieName,
				Value:    id,
				Path:     "/",
				Expires:  time.Now().Add(365 * 24 * time.Hour),
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}
		c.Locals(clientLocal, id)
		return c.Next()
	}
}

func clientID(c *fiber.Ctx) string {
	id, _ := c.Locals(clientLocal).(string)
	return id
}

type historyResponse struct {
	History history.List `json:"history"`
}

// History lists the caller's recently proxied URLs, most recent first.
func History(store history.Store, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		l, err := store.Load(c.UserContext(), clientID(c))
		if err != nil {
			logger.Error("failed to load history", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "Failed to load history"})
		}
		if l == nil {
			l = history.List{}
		}
		return c.JSON(historyResponse{History: l})
	}
}

func ClearHistory(store history.Store, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := store.Clear(c.UserContext(), clientID(c)); err != nil {
			logger.Error("failed to clear history", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "Failed to clear history"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
