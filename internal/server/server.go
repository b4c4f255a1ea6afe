package server

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/pkg/errors"

	"playground/internal/model"
	"playground/internal/platform"
)

//go:embed static/index.html
var indexHTML []byte

const defaultRunsLimit = 50

type Options struct {
	// RequestLog enables fiber's request logger middleware.
	RequestLog bool
	// AllowOrigins is passed to the CORS middleware; empty allows any origin.
	AllowOrigins string
	RunsLimit    int
}

// Server exposes a playground over HTTP and streams frames over a websocket.
type Server struct {
	app  *fiber.App
	pg   *platform.Playground
	opts Options
}

func New(pg *platform.Playground, opts Options) *Server {
	if opts.RunsLimit <= 0 {
		opts.RunsLimit = defaultRunsLimit
	}
	app := fiber.New(fiber.Config{
		AppName:               "playground",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	if opts.RequestLog {
		app.Use(logger.New())
	}
	corsConfig := cors.Config{}
	if opts.AllowOrigins != "" {
		corsConfig.AllowOrigins = opts.AllowOrigins
	}
	app.Use(cors.New(corsConfig))

	s := &Server{app: app, pg: pg, opts: opts}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/", func(c *fiber.Ctx) error {
		c.Type("html", "utf-8")
		return c.Send(indexHTML)
	})

	api := s.app.Group("/api")
	api.Get("/state", s.handleState)
	api.Post("/dataset", s.handleDataset)
	api.Put("/settings", s.handleSettings)
	api.Put("/architecture", s.handleSetArchitecture)
	api.Post("/architecture/layers", s.handleAddLayer)
	api.Delete("/architecture/layers/:index", s.handleRemoveLayer)
	api.Post("/architecture/layers/:index/units", s.handleAddUnit)
	api.Delete("/architecture/layers/:index/units", s.handleRemoveUnit)
	api.Post("/train", s.handleTrain)
	api.Post("/stop", s.handleStop)
	api.Post("/predict", s.handlePredict)
	api.Get("/render/:plane", s.handleRender)
	api.Get("/runs", s.handleRuns)
	api.Get("/runs/:id", s.handleRun)
	api.Get("/runs/:id/losses", s.handleLosses)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.stream))
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	return c.Status(status).JSON(errorResponse{Error: err.Error()})
}

// badRequest marks malformed request input.
type badRequest struct {
	err error
}

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

func invalidInput(err error) error {
	return &badRequest{err: err}
}

var errRunNotFound = errors.New("run not found")

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		fiberErr     *fiber.Error
		bad          *badRequest
		locked       *model.TrainingLockedError
		index        *model.IndexError
		arch         *model.ArchitectureError
		invalid      *model.InvalidDatasetError
		precondition *model.PreconditionError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &bad), errors.Is(err, platform.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.As(err, &locked):
		return http.StatusConflict
	case errors.As(err, &index), errors.Is(err, errRunNotFound):
		return http.StatusNotFound
	case errors.As(err, &arch), errors.As(err, &invalid), errors.As(err, &precondition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, platform.ErrNotStarted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
