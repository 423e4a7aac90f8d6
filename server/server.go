// Package server exposes ingestion, enrichment and the GraphQL read API over HTTP.
package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/graphql-go/graphql"
	"github.com/ortelius/vulngraph/enrich"
	"github.com/ortelius/vulngraph/ingest"
	"github.com/ortelius/vulngraph/model"
	"go.uber.org/zap"
)

// Ingester loads a batch of finding records.
type Ingester interface {
	Ingest(ctx context.Context, records []model.FindingRecord) ingest.Report
}

// Enricher runs one enrichment batch.
type Enricher interface {
	Run(ctx context.Context) (enrich.Report, error)
}

// ErrorResponse is the body of every non-GraphQL failure
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Server is the fiber application with its collaborators.
type Server struct {
	app      *fiber.App
	ingester Ingester
	enricher Enricher
	schema   graphql.Schema
	logger   *zap.Logger
}

// New wires the routes.
func New(ingester Ingester, enricher Enricher, schema graphql.Schema, logger *zap.Logger) *Server {
	s := &Server{
		ingester: ingester,
		enricher: enricher,
		schema:   schema,
		logger:   logger.Named("server"),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "vulngraph API v1.0",
		BodyLimit:             50 * 1024 * 1024, // 50MB limit for scanner exports
		ReadTimeout:           time.Second * 60,
		DisableStartupMessage: true,
	})

	// Middleware
	s.app.Use(fiberrecover.New())
	s.app.Use(fiberlogger.New())
	s.app.Use(cors.New())

	// Health check endpoint
	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
		})
	})

	api := s.app.Group("/api/v1")
	api.Post("/findings", s.PostFindings)
	api.Post("/enrich", s.PostEnrich)
	api.Post("/graphql", s.GraphQL)

	return s
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on port until Shutdown.
func (s *Server) Listen(port string) error {
	s.logger.Info("Starting server", zap.String("port", port), zap.String("graphql", "/api/v1/graphql"))
	return s.app.Listen(":" + port)
}

// Shutdown stops accepting connections and waits for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// PostFindings ingests a JSON batch. The response is 201 when every record was stored and
// 207 when some were rejected.
func (s *Server) PostFindings(c *fiber.Ctx) error {
	records, err := ingest.ParseJSON(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Message: "Invalid request body: " + err.Error(),
		})
	}
	if len(records) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Message: "At least one finding record is required",
		})
	}

	report := s.ingester.Ingest(c.UserContext(), records)

	status := fiber.StatusCreated
	if !report.OK() {
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(report)
}

// PostEnrich runs one enrichment batch and returns its report.
func (s *Server) PostEnrich(c *fiber.Ctx) error {
	report, err := s.enricher.Run(c.UserContext())
	if err != nil {
		s.logger.Error("Enrichment failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Message: "Enrichment failed: " + err.Error(),
		})
	}
	return c.JSON(report)
}

// GraphQL handles GraphQL requests
func (s *Server) GraphQL(c *fiber.Ctx) error {
	var params struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"errors": []map[string]interface{}{
				{
					"message": "Invalid request body",
				},
			},
		})
	}

	result := graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  params.Query,
		VariableValues: params.Variables,
		OperationName:  params.OperationName,
		Context:        c.UserContext(),
	})

	if len(result.Errors) > 0 {
		s.logger.Warn("GraphQL errors", zap.Any("errors", result.Errors))
	}

	return c.JSON(result)
}
