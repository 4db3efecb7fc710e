package handlers

import (
	"errors"
	"strings"

	"github.com/andesco/pageproxy/pkg/fetch"
	"github.com/andesco/pageproxy/pkg/proxy"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type proxyRequest struct {
	URL string `json:"url"`
}

type proxyResponse struct {
	Success     bool   `json:"success"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Warnings    int    `json:"warnings,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ProxySite fetches the posted URL and returns it rendered for the page.
func ProxySite(svc *proxy.Service, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req proxyRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
				Error:   "Invalid request body",
				Details: err.Error(),
			})
		}
		if strings.TrimSpace(req.URL) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "URL is required"})
		}

		page, err := svc.Proxy(c.UserContext(), proxy.Request{
			Target: req.URL,
			Client: clientID(c),
		})
		if err != nil {
			status, body := errorBody(err)
			logger.Error("proxy error",
				zap.String("url", req.URL),
				zap.Int("status", status),
				zap.String("code", body.Details),
				zap.Error(err),
			)
			return c.Status(status).JSON(body)
		}

		return c.JSON(proxyResponse{
			Success:     true,
			Content:     page.Content,
			ContentType: page.ContentType,
			URL:         page.URL,
			Warnings:    len(page.Warnings),
		})
	}
}

// errorBody maps pipeline errors onto a status code and client message.
func errorBody(err error) (int, errorResponse) {
	var ferr *fetch.Error
	if !errors.As(err, &ferr) {
		return fiber.StatusInternalServerError, errorResponse{Error: "Failed to fetch the URL", Details: err.Error()}
	}

	msg := ferr.Kind.Error()
	if ferr.Err != nil {
		msg = ferr.Err.Error()
	}

	switch {
	case errors.Is(ferr, fetch.ErrInvalidInput):
		return fiber.StatusBadRequest, errorResponse{Error: "Invalid URL: " + msg, Details: ferr.Code}
	case ferr.Timeout():
		return fiber.StatusGatewayTimeout, errorResponse{Error: msg, Details: ferr.Code}
	default:
		return fiber.StatusBadGateway, errorResponse{Error: msg, Details: ferr.Code}
	}
}
