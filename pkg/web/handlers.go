// Package web exposes the execution service over HTTP.
package web

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/agentflow/pkg/services"
	"github.com/dukex/agentflow/pkg/settings"
	"github.com/dukex/agentflow/pkg/tools"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"
)

type APIHandlers struct {
	executions *services.Execution
	settings   *settings.Service
	tools      *tools.Registry
	validator  *validator.Validate
	stream     StreamConfig
	logger     *slog.Logger
}

func NewAPIHandlers(
	executions *services.Execution,
	settingsService *settings.Service,
	toolRegistry *tools.Registry,
	stream StreamConfig,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		executions: executions,
		settings:   settingsService,
		tools:      toolRegistry,
		validator:  validator.New(validator.WithRequiredStructEnabled()),
		stream:     stream.withDefaults(),
		logger:     logger.With("module", "api"),
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeCheck, storeOk := h.executions.HealthCheck(c.Context())

	status := "unhealthy"
	message := "agentflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if storeOk {
		status = "healthy"
		message = "agentflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": storeCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req services.StartRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.executions.Start(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{
		ExecutionID: execution.ID,
		Status:      execution.Status,
	})
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	filter, err := parseExecutionFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	executions, err := h.executions.List(c.Context(), filter)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": executions,
		"pagination": fiber.Map{
			"limit":  filter.Limit,
			"offset": filter.Offset,
		},
	})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.executions.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	query, err := parseLogQuery(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	page, err := h.executions.GetLogs(c.Context(), c.Params("id"), query)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(page)
}

func (h *APIHandlers) DownloadExecutionLogs(c fiber.Ctx) error {
	id := c.Params("id")

	execution, err := h.executions.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="execution-`+id+`-logs.txt"`)

	return c.SendString(FormatLogs(execution))
}

// StreamExecutionEvents streams the execution's events as Server-Sent
// Events, starting with a snapshot of the record and the subscription id the
// client pings with.
func (h *APIHandlers) StreamExecutionEvents(c fiber.Ctx) error {
	sub, execution, err := h.executions.Subscribe(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	snapshot, err := json.Marshal(execution)
	if err != nil {
		sub.Close()

		return internalError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
	c.Set(SubscriptionHeader, sub.ID)

	streamer := &eventStreamer{config: h.stream, logger: h.logger}

	c.Response().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		streamer.run(w, snapshot, sub.ID, sub)
	}))

	return nil
}

// PingExecution asks for a pong on the stream named by the subscription
// query parameter.
func (h *APIHandlers) PingExecution(c fiber.Ctx) error {
	err := h.executions.Ping(c.Context(), c.Params("id"), c.Query("subscription"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetSettings(c fiber.Ctx) error {
	userID := c.Params("user_id")

	current, _ := h.settings.Get(userID)

	return c.JSON(SettingsResponse{UserID: userID, Settings: maskSettings(current)})
}

func (h *APIHandlers) PutSettings(c fiber.Ctx) error {
	userID := c.Params("user_id")

	var incoming settings.UserSettings
	if err := c.Bind().JSON(&incoming); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(incoming); err != nil {
		return badRequest(c, err.Error())
	}

	current, _ := h.settings.Get(userID)
	incoming = restoreMaskedKeys(current, incoming)

	err := h.settings.Put(c.Context(), userID, incoming)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(SettingsResponse{UserID: userID, Settings: maskSettings(incoming)})
}

func (h *APIHandlers) ListTools(c fiber.Ctx) error {
	definitions, err := h.tools.Definitions()
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"tools": definitions})
}
