package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureKeepsExistingTraceID(t *testing.T) {
	t.Parallel()
	ctx := WithContext(context.Background(), "abc")
	assert.Equal(t, "abc", FromContext(Ensure(ctx)))
}

func TestEnsureGeneratesTraceID(t *testing.T) {
	t.Parallel()
	ctx := Ensure(context.Background())
	id := FromContext(ctx)
	require.Len(t, id, 32)
	assert.NotEqual(t, id, GenerateTraceID())
}
