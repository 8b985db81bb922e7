package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expression string
		expected   float64
	}{
		{"2 + 2", 4},
		{"2 ** 10", 1024},
		{"10 - 4 - 3", 3},
		{"2 * 3 + 4", 10},
		{"2 * (3 + 4)", 14},
		{"7 / 2", 3.5},
		{"-2 ** 2", -4},
		{"2 ** -1", 0.5},
		{"2 ** 3 ** 2", 512},
		{"--3", 3},
		{"1.5 * 4", 6},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			t.Parallel()

			result, err := Evaluate(tt.expression)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, result, 1e-9)
		})
	}
}

func TestEvaluate_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		expression string
		errMsg     string
	}{
		{"import", "__import__('os').system('x')", "unsupported character"},
		{"names", "sqrt(4)", "unsupported character"},
		{"division by zero", "1 / 0", "division by zero"},
		{"unbalanced", "(1 + 2", "expected ')'"},
		{"trailing operator", "1 +", "unexpected end of expression"},
		{"dangling number", "1 2", "unexpected \"2\""},
		{"unary plus", "+1", "unexpected \"+\""},
		{"overflow", "10 ** 400", "out of range"},
		{"empty", "", "unexpected end of expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Evaluate(tt.expression)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCalculator_Invoke(t *testing.T) {
	t.Parallel()

	result, err := Calculator{}.Invoke(context.Background(), map[string]any{"expression": "2 ** 10"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": 1024.0, "expression": "2 ** 10"}, result)

	_, err = Calculator{}.Invoke(context.Background(), map[string]any{"expression": "os.exit()"})

	var invocationErr *InvocationError
	require.ErrorAs(t, err, &invocationErr)
	assert.Equal(t, "os.exit()", invocationErr.Details["expression"])
}
