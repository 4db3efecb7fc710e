package handlers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/andesco/pageproxy/pkg/proxy"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// extractURL reads the target embedded in the request path, eg:
// /raw/https://realsite.com/images/foobar.jpg?x=1 -> https://realsite.com/images/foobar.jpg?x=1
func extractURL(c *fiber.Ctx) (string, error) {
	// try to extract url-encoded; path rules keep '+' literal
	reqURL, err := url.PathUnescape(c.Params("*"))
	if err != nil {
		// fallback
		reqURL = c.Params("*")
	}
	if strings.TrimSpace(reqURL) == "" {
		return "", fmt.Errorf("no target URL in path %q", c.Path())
	}
	// path normalization collapses the scheme's double slash
	for _, scheme := range []string{"https:/", "http:/"} {
		if strings.HasPrefix(reqURL, scheme) && !strings.HasPrefix(reqURL, scheme+"/") {
			reqURL = scheme + "/" + strings.TrimPrefix(reqURL, scheme)
			break
		}
	}

	if q := string(c.Request().URI().QueryString()); q != "" {
		reqURL += "?" + q
	}
	return reqURL, nil
}

// RawSite serves the rendered page directly instead of wrapping it in JSON,
// so a target can be opened in its own tab.
func RawSite(svc *proxy.Service, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		target, err := extractURL(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}

		page, err := svc.Proxy(c.UserContext(), proxy.Request{Target: target, Client: clientID(c)})
		if err != nil {
			status, body := errorBody(err)
			logger.Error("raw proxy error", zap.String("url", target), zap.Error(err))
			return c.Status(status).SendString(body.Error)
		}

		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		c.Set("X-Proxied-URL", page.URL)
		return c.SendString(page.Content)
	}
}
