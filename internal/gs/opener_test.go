package gs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenerReusesStorage(t *testing.T) {
	mem := NewMemoryStorage()
	o := &Opener{DryRun: true, storage: mem}

	first, err := o.Open(context.Background())
	require.NoError(t, err)
	first.DryRun = false
	second, err := o.Open(context.Background())
	require.NoError(t, err)

	assert.Same(t, mem, first.Storage)
	assert.Same(t, mem, second.Storage)
	assert.True(t, second.DryRun)
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
}
