package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/deepnoodle-ai/flowgraph"
	"github.com/deepnoodle-ai/flowgraph/storetest"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("flowgraph"),
		tcpostgres.WithUsername("flowgraph"),
		tcpostgres.WithPassword("flowgraph"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestStore(t *testing.T) {
	dsn := startPostgres(t)
	var n atomic.Int32

	storetest.Run(t, func(t *testing.T) flowgraph.Store {
		prefix := fmt.Sprintf("t%d_", n.Add(1))
		s, err := Open(context.Background(), dsn, Options{TablePrefix: prefix})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
