package handlers

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/andesco/pageproxy/pkg/history"
	"github.com/andesco/pageproxy/pkg/metrics"
	"github.com/andesco/pageproxy/pkg/proxy"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

//go:embed public
var publicFS embed.FS

// Options are the collaborators the app routes to.
type Options struct {
	Service *proxy.Service
	History history.Store
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// PublicDir serves the front-end from disk instead of the embedded copy.
	PublicDir string
	Prefork   bool
}

// NewApp builds the fiber app with API routes first and the front-end as
// the catch-all.
func NewApp(opts Options) *fiber.App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	app := fiber.New(fiber.Config{
		AppName:               "pageproxy",
		Prefork:               opts.Prefork,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		ReadTimeout:           30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(requestLogger(logger))
	app.Use(ClientID())

	api := app.Group("/api")
	api.Post("/proxy", ProxySite(opts.Service, logger))
	if opts.History != nil {
		api.Get("/history", History(opts.History, logger))
		api.Delete("/history", ClearHistory(opts.History, logger))
	}

	app.Get("/raw/*", RawSite(opts.Service, logger))

	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}

	app.Use(filesystem.New(filesystem.Config{
		Root:         frontend(opts.PublicDir),
		Index:        "index.html",
		NotFoundFile: "index.html",
	}))

	return app
}

func frontend(dir string) http.FileSystem {
	if dir != "" {
		return http.Dir(dir)
	}
	sub, err := fs.Sub(publicFS, "public")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

// errorHandler answers with the same JSON shape as the API handlers, so a
// panic recovered by middleware still yields a well formed response.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(code).JSON(errorResponse{Error: err.Error()})
	}
}

func requestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	}
}
