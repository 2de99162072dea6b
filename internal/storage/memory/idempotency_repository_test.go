package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

func TestIdempotencyRepository_CreateAndReplay(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	record, err := repo.CreateProcessing(ctx, " key-1 ", "hash-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "key-1", record.Key)
	assert.Equal(t, domain.IdempotencyStatusProcessing, record.Status)

	existing, err := repo.CreateProcessing(ctx, "key-1", "hash-1", time.Hour)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.Equal(t, domain.IdempotencyStatusProcessing, existing.Status)

	require.NoError(t, repo.MarkDone(ctx, "key-1", []byte(`{"ok":true}`), 201, time.Hour))

	done, err := repo.CreateProcessing(ctx, "key-1", "hash-1", time.Hour)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.Equal(t, domain.IdempotencyStatusDone, done.Status)
	assert.Equal(t, 201, done.HTTPStatus)
	assert.JSONEq(t, `{"ok":true}`, string(done.ResponseBody))

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-2", time.Hour)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_Release(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing(ctx, "key-1", "hash-1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, "key-1"))

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-1", time.Hour)
	require.NoError(t, err)
}

func TestIdempotencyRepository_Expiry(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	_, err := repo.CreateProcessing(ctx, "key-1", "hash-1", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-2", time.Hour)
	require.NoError(t, err)
}

func TestIdempotencyRepository_KeyRequired(t *testing.T) {
	_, err := memory.NewIdempotencyRepository().CreateProcessing(context.Background(), "  ", "hash", time.Hour)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestIdempotencyRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	for _, key := range []string{"a", "b", "c"} {
		_, err := repo.CreateProcessing(ctx, key, "hash", time.Minute)
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "long", "hash", 48*time.Hour)
	require.NoError(t, err)

	deleted, err := repo.DeleteExpired(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	later := time.Now().UTC().Add(time.Hour)
	deleted, err = repo.DeleteExpired(ctx, later, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = repo.DeleteExpired(ctx, later, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repo.CreateProcessing(ctx, "long", "other", time.Hour)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}
