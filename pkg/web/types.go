package web

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/agentflow/pkg/models"
	"github.com/dukex/agentflow/pkg/settings"
	"github.com/gofiber/fiber/v3"
)

const maskedMarker = "*****"

// StartExecutionResponse is returned when an execution is accepted.
type StartExecutionResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
}

type SettingsResponse struct {
	UserID   string                `json:"user_id"`
	Settings settings.UserSettings `json:"settings"`
}

// MaskAPIKey keeps the first eight and last four characters of a key.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}

	if len(key) <= 12 {
		return maskedMarker
	}

	return key[:8] + maskedMarker + key[len(key)-4:]
}

func maskSettings(in settings.UserSettings) settings.UserSettings {
	out := in
	out.Providers = make([]settings.Provider, len(in.Providers))

	for i, provider := range in.Providers {
		provider.APIKey = MaskAPIKey(provider.APIKey)
		out.Providers[i] = provider
	}

	return out
}

// restoreMaskedKeys replaces masked keys in incoming with the stored key of
// the provider with the same id, or the same name when ids are absent.
func restoreMaskedKeys(current, incoming settings.UserSettings) settings.UserSettings {
	for i, provider := range incoming.Providers {
		if !strings.Contains(provider.APIKey, maskedMarker) {
			continue
		}

		incoming.Providers[i].APIKey = ""

		for _, existing := range current.Providers {
			sameID := provider.ID != "" && provider.ID == existing.ID
			sameName := provider.ID == "" && provider.Name == existing.Name

			if sameID || sameName {
				incoming.Providers[i].APIKey = existing.APIKey

				break
			}
		}
	}

	return incoming
}

func queryInt(c fiber.Ctx, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}

	return value, nil
}

func parseExecutionFilter(c fiber.Ctx) (models.ExecutionFilter, error) {
	filter := models.ExecutionFilter{
		WorkflowID: c.Query("workflow_id"),
		UserID:     c.Query("user_id"),
		Status:     models.ExecutionStatus(c.Query("status")),
	}

	var err error

	filter.Limit, err = queryInt(c, "limit")
	if err != nil {
		return filter, err
	}

	filter.Offset, err = queryInt(c, "offset")

	return filter, err
}

func parseLogQuery(c fiber.Ctx) (models.LogQuery, error) {
	query := models.LogQuery{
		Level:  models.LogLevel(strings.ToUpper(c.Query("level"))),
		NodeID: c.Query("node_id"),
	}

	var err error

	query.Limit, err = queryInt(c, "limit")
	if err != nil {
		return query, err
	}

	query.Offset, err = queryInt(c, "offset")

	return query, err
}

// FormatLogs renders an execution's logs as plain text, one entry per line.
func FormatLogs(execution *models.Execution) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Execution: %s\n", execution.ID)
	fmt.Fprintf(&b, "Workflow: %s\n", execution.WorkflowID)
	fmt.Fprintf(&b, "Status: %s\n", execution.Status)
	fmt.Fprintf(&b, "Started: %s\n", execution.StartedAt.UTC().Format(time.RFC3339))

	if execution.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", execution.Error)
	}

	b.WriteString("\n")

	for _, entry := range execution.Logs {
		fmt.Fprintf(&b, "[%s] %-7s ", entry.Timestamp.UTC().Format(time.RFC3339Nano), entry.Level)

		if entry.NodeID != "" {
			fmt.Fprintf(&b, "[%s] ", entry.NodeID)
		}

		b.WriteString(entry.Message)
		b.WriteString("\n")
	}

	return b.String()
}
