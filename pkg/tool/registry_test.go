package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTool struct {
	name   string
	schema map[string]any
	fn     func(ctx context.Context, args map[string]any) (string, error)
}

func (s *staticTool) Name() string           { return s.name }
func (s *staticTool) Description() string    { return "test tool" }
func (s *staticTool) Schema() map[string]any { return s.schema }

func (s *staticTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if s.fn != nil {
		return s.fn(ctx, args)
	}
	return "done", nil
}

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&staticTool{name: "echo"}))

	out, err := r.Execute(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&staticTool{name: "echo"}))
	assert.Error(t, r.Register(&staticTool{name: "echo"}))
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindNotFound, ClassifyErr(err))
}

func TestSchemaValidationRejectsBadArgs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&staticTool{
		name: "typed",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": "integer"},
			},
			"required": []any{"count"},
		},
	}))

	_, err := r.Execute(context.Background(), "typed", map[string]any{"count": "three"})
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, KindInvalidArguments, ClassifyErr(err))

	out, err := r.Execute(context.Background(), "typed", map[string]any{"count": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestDefinitionsPreserveRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&staticTool{name: "zeta"}))
	require.NoError(t, r.Register(&staticTool{name: "alpha"}))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "zeta", defs[0].Name)
	assert.Equal(t, "alpha", defs[1].Name)
}

func TestClassifyErrTimeout(t *testing.T) {
	err := errors.Join(errors.New("wrapper"), context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, ClassifyErr(err))
}
