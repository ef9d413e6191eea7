package execport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govatlas/core/pkg/execport"
)

func TestRegistry_DispatchesToRegisteredHandler(t *testing.T) {
	reg := execport.NewRegistry()
	reg.Register("ticket.get", func(ctx context.Context, actionID string, params map[string]any) (any, error) {
		return map[string]any{"echo": params["id"]}, nil
	})

	result, err := reg.Execute(context.Background(), "ticket.get", map[string]any{"id": "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "t-1", result.(map[string]any)["echo"])
}

func TestRegistry_UnknownActionErrors(t *testing.T) {
	reg := execport.NewRegistry()
	_, err := reg.Execute(context.Background(), "nope", nil)
	require.Error(t, err)
}
