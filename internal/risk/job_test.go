package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSweepJob_ReleasesExpiredReservations(t *testing.T) {
	store := openTestStore(t)
	_, err := store.ReserveAndCheck("AAPL", "order-1", 10, 0, 1000, -time.Second)
	require.NoError(t, err)

	job := NewSweepJob(store, zerolog.Nop())
	require.Equal(t, "reservation-sweep", job.Name())
	require.NoError(t, job.Run(context.Background()))

	qty, err := store.ReservedQty("AAPL")
	require.NoError(t, err)
	require.Equal(t, int64(0), qty)
}
