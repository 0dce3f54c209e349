package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dwpipe/docs"
	"dwpipe/internal/service"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps groups what the routes need. DB may be nil when the run ledger is in memory.
type Deps struct {
	DB       Pinger
	Runs     service.RunService
	Gatherer prometheus.Gatherer
}

// TriggerRequest is the optional JSON body of POST /pipelines/:id/runs.
type TriggerRequest struct {
	Params map[string]string `json:"params"`
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	app.Get("/health", HealthCheck(d.DB))
	app.Get("/healthz", Liveness())

	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	app.Get("/swagger/*", SwaggerUI())

	app.Get("/pipelines", ListPipelines(d.Runs))
	app.Post("/pipelines/:id/runs", TriggerRun(d.Runs))
	app.Get("/runs", ListRuns(d.Runs))
	app.Get("/runs/:id", GetRun(d.Runs))
}

// HealthCheck pings the database; without one the service is always healthy.
//
// @Summary  Readiness check
// @Tags     health
// @Produce  json
// @Success  200 {object} map[string]string
// @Failure  503 {object} errorPayload
// @Router   /health [get]
func HealthCheck(db Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// Liveness always answers 200.
func Liveness() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// SwaggerUI serves the generated API docs with the caller's host and scheme.
func SwaggerUI() fiber.Handler {
	return func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	}
}

// ListPipelines godoc
//
// @Summary  List registered pipelines
// @Tags     pipelines
// @Produce  json
// @Success  200 {array} model.PipelineInfo
// @Router   /pipelines [get]
func ListPipelines(svc service.RunService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(svc.Pipelines())
	}
}

// TriggerRun godoc
//
// @Summary  Start a pipeline run
// @Tags     runs
// @Accept   json
// @Produce  json
// @Param    id   path string         true  "Pipeline ID"
// @Param    body body TriggerRequest false "Run parameters"
// @Success  202 {object} model.Run
// @Failure  400 {object} errorPayload
// @Failure  404 {object} errorPayload
// @Failure  409 {object} errorPayload
// @Router   /pipelines/{id}/runs [post]
func TriggerRun(svc service.RunService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req TriggerRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
			}
		}

		// The run outlives the request; route params point into a pooled buffer.
		id := utils.CopyString(c.Params("id"))
		run, err := svc.Trigger(c.UserContext(), id, req.Params)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrIDRequired):
				return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "pipeline id is required")
			case errors.Is(err, service.ErrPipelineNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "pipeline not found")
			case errors.Is(err, service.ErrRunInProgress):
				return writeError(c, fiber.StatusConflict, "RUN_IN_PROGRESS", "a run of this pipeline is already in progress")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		c.Location("/runs/" + run.ID)
		return c.Status(fiber.StatusAccepted).JSON(run)
	}
}

// ListRuns godoc
//
// @Summary  List runs, newest first
// @Tags     runs
// @Produce  json
// @Param    limit  query int false "Page size (default 10, max 100)"
// @Param    offset query int false "Offset"
// @Success  200 {object} service.RunListResult
// @Failure  400 {object} errorPayload
// @Router   /runs [get]
func ListRuns(svc service.RunService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}

		res, err := svc.List(c.UserContext(), limit, offset)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}

// GetRun godoc
//
// @Summary  Get a run with its uploaded files
// @Tags     runs
// @Produce  json
// @Param    id path string true "Run ID"
// @Success  200 {object} model.Run
// @Failure  400 {object} errorPayload
// @Failure  404 {object} errorPayload
// @Router   /runs/{id} [get]
func GetRun(svc service.RunService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		run, err := svc.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidID), errors.Is(err, service.ErrIDRequired):
				return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "run not found")
			default:
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}
		return c.JSON(run)
	}
}
