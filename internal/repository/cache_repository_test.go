package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/hostel-permit-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "permits:cache:", nil)
	ctx := context.Background()

	var dest map[string]int
	err := repo.Get(ctx, "queue:hi-1", &dest)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrCacheMiss))

	assert.NoError(t, repo.Set(ctx, "queue:hi-1", map[string]int{"pending": 1}, time.Minute))
	assert.NoError(t, repo.DeleteByPattern(ctx, "queue:*"))

	var nilRepo *CacheRepository
	assert.True(t, appErrors.Is(nilRepo.Get(ctx, "k", &dest), appErrors.ErrCacheMiss))
}
