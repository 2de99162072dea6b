package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

func TestTimelineRepository_ChronologicalOrder(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: "OrderPaid", Occurred: base.Add(time.Minute)}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: "OrderCreated", Occurred: base}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o2", Type: "OrderCreated", Occurred: base}))

	events, err := repo.List(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "OrderCreated", events[0].Type)
	require.Equal(t, "OrderPaid", events[1].Type)

	empty, err := repo.List(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, empty)
}
