package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/blues/jsonata-go"
)

// RegisterBuiltins installs the illustrative built-in tools. fileRoot confines
// file_reader; an empty root leaves it unconfined.
func RegisterBuiltins(registry *Registry, fileRoot string) {
	registry.Register(Calculator{})
	registry.Register(Script{})
	registry.Register(FileReader{Root: fileRoot})
	registry.Register(HTTPRequest{})
	registry.Register(WebSearch{})
}

// MaxScriptLength bounds the source of a script.
const MaxScriptLength = 4096

// Script evaluates a JSONata expression over caller supplied variables. The
// language has no IO, so the expression only sees what the caller passes.
type Script struct{}

func (Script) Name() string {
	return "script"
}

func (Script) Description() string {
	return "Evaluates a sandboxed JSONata expression over the given variables and returns the result."
}

func (Script) Parameters() []Parameter {
	return []Parameter{
		{Name: "script", Type: TypeString, Description: "JSONata expression, e.g. 'price * qty' or '$sum(items)'", Required: true},
		{Name: "variables", Type: TypeObject, Description: "Values visible to the script as fields"},
	}
}

func (Script) Invoke(_ context.Context, args map[string]any) (any, error) {
	script, _ := args["script"].(string)
	variables, _ := args["variables"].(map[string]any)

	details := map[string]any{"script": script}

	if len(script) > MaxScriptLength {
		return nil, &InvocationError{Message: fmt.Sprintf("script exceeds %d characters", MaxScriptLength), Details: details}
	}

	expr, err := jsonata.Compile(script)
	if err != nil {
		return nil, &InvocationError{Message: fmt.Sprintf("failed to compile script: %v", err), Details: details}
	}

	if variables == nil {
		variables = map[string]any{}
	}

	result, err := expr.Eval(variables)
	if errors.Is(err, jsonata.ErrUndefined) {
		return map[string]any{"result": nil}, nil
	}

	if err != nil {
		return nil, &InvocationError{Message: fmt.Sprintf("failed to evaluate script: %v", err), Details: details}
	}

	return map[string]any{"result": result}, nil
}

const DefaultMaxLines = 100

// FileReader reads the first lines of a text file.
type FileReader struct {
	Root string
}

func (FileReader) Name() string {
	return "file_reader"
}

func (FileReader) Description() string {
	return "Reads the contents of a text file"
}

func (FileReader) Parameters() []Parameter {
	return []Parameter{
		{Name: "file_path", Type: TypeString, Description: "Path to the file to read", Required: true},
		{Name: "max_lines", Type: TypeNumber, Description: "Maximum number of lines to read", Default: DefaultMaxLines},
	}
}

func (f FileReader) Invoke(_ context.Context, args map[string]any) (any, error) {
	filePath, _ := args["file_path"].(string)
	details := map[string]any{"file_path": filePath}

	maxLines := intArg(args, "max_lines", DefaultMaxLines)
	if maxLines <= 0 {
		return nil, invocationErrorf(details, "max_lines must be positive")
	}

	path, err := f.resolve(filePath)
	if err != nil {
		return nil, &InvocationError{Message: err.Error(), Details: details}
	}

	file, err := os.Open(path) // #nosec G304 -- confined to Root when configured
	if err != nil {
		return nil, &InvocationError{Message: err.Error(), Details: details}
	}
	defer func() { _ = file.Close() }()

	lines := make([]string, 0, min(maxLines, 64))
	truncated := false

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(lines) == maxLines {
			truncated = true

			break
		}

		lines = append(lines, strings.TrimRight(scanner.Text(), " \t\r"))
	}

	err = scanner.Err()
	if err != nil {
		return nil, &InvocationError{Message: err.Error(), Details: details}
	}

	return map[string]any{
		"file_path":  filePath,
		"lines_read": len(lines),
		"content":    strings.Join(lines, "\n"),
		"truncated":  truncated,
	}, nil
}

func (f FileReader) resolve(filePath string) (string, error) {
	if f.Root == "" {
		return filepath.Clean(filePath), nil
	}

	root, err := filepath.Abs(f.Root)
	if err != nil {
		return "", err
	}

	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}

	path := filePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	path = filepath.Clean(path)

	// Links are followed before the containment check; a missing file keeps
	// its lexical path and fails on open.
	resolved, err := filepath.EvalSymlinks(path)
	switch {
	case err == nil:
		path = resolved
	case !errors.Is(err, fs.ErrNotExist):
		return "", err
	}

	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the allowed directory", filePath)
	}

	return path, nil
}

const maxSearchResults = 10

// WebSearch returns synthetic results. It stands in for a real search backend.
type WebSearch struct{}

func (WebSearch) Name() string {
	return "web_search"
}

func (WebSearch) Description() string {
	return "Searches the web for information on a given query"
}

func (WebSearch) Parameters() []Parameter {
	return []Parameter{
		{Name: "query", Type: TypeString, Description: "Search query", Required: true},
		{Name: "num_results", Type: TypeNumber, Description: "Number of results to return", Default: 5},
	}
}

func (WebSearch) Invoke(_ context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	count := min(max(intArg(args, "num_results", 5), 0), maxSearchResults)

	results := make([]map[string]any, count)
	for i := range results {
		results[i] = map[string]any{
			"title":   fmt.Sprintf("Result %d for '%s'", i+1, query),
			"url":     fmt.Sprintf("https://example.com/result%d", i+1),
			"snippet": "This is a placeholder result for " + query,
		}
	}

	return map[string]any{
		"query":   query,
		"results": results,
		"note":    "Synthetic results; no search backend is configured.",
	}, nil
}

func intArg(args map[string]any, name string, fallback int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
