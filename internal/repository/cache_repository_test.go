package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	var dest map[string]int
	err := repo.Get(ctx, "reports:criteria:2024-03", &dest)
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))

	require.NoError(t, repo.Set(ctx, "reports:criteria:2024-03", map[string]int{"a": 1}, time.Minute))
	require.NoError(t, repo.DeleteByPattern(ctx, "reports:*"))
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Close())
}
