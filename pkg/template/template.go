// Package template provides sandboxed text/template rendering for system prompts.
//
// Templates only see the data they are given and a fixed set of pure helper
// functions: no environment, no filesystem and no clock beyond "now".
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// MaxOutputSize bounds the rendered output of a single template.
const MaxOutputSize = 64 * 1024

var ErrOutputTooLarge = errors.New("template output exceeds limit")

// NeedsTemplating reports whether input contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// RenderText executes templateStr over data and returns the raw output.
func RenderText(templateStr string, data any) (string, error) {
	tmpl, err := template.
		New("sandbox").
		Option("missingkey=zero").
		Funcs(funcs()).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	buf := &limitedBuffer{limit: MaxOutputSize}

	err = tmpl.Execute(buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

type limitedBuffer struct {
	strings.Builder

	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.Len()+len(p) > b.limit {
		return 0, ErrOutputTooLarge
	}

	return b.Builder.Write(p)
}

func funcs() template.FuncMap {
	return template.FuncMap{
		"now": func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"trim":      strings.TrimSpace,
		"replace":   strings.ReplaceAll,
		"split":     strings.Split,
		"contains":  strings.Contains,
		"hasPrefix": strings.HasPrefix,
		"hasSuffix": strings.HasSuffix,
		"join": func(items []any, sep string) string {
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = fmt.Sprint(item)
			}

			return strings.Join(parts, sep)
		},
		"default": func(fallback, value any) any {
			if value == nil || value == "" {
				return fallback
			}

			return value
		},
		"toJSON": func(value any) (string, error) {
			data, err := json.Marshal(value)
			if err != nil {
				return "", err
			}

			return string(data), nil
		},
		"add": func(a, b any) float64 { return toFloat(a) + toFloat(b) },
		"sub": func(a, b any) float64 { return toFloat(a) - toFloat(b) },
		"mul": func(a, b any) float64 { return toFloat(a) * toFloat(b) },
		"div": func(a, b any) (float64, error) {
			divisor := toFloat(b)
			if divisor == 0 {
				return 0, errors.New("division by zero")
			}

			return toFloat(a) / divisor, nil
		},
	}
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case float32:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()

		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f
	default:
		return 0
	}
}
