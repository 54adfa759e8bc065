package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/l1jgo/ghostreg/internal/collection"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewWithRegistry(reg)

	c.ObserveCompile("Player", 2*time.Millisecond, 1)
	c.ObserveCompile("Crate", time.Millisecond, 0)
	require.Equal(t, 2.0, testutil.ToFloat64(c.Compiles))
	require.Equal(t, 1.0, testutil.ToFloat64(c.FieldWarnings))

	c.ObserveFault(&collection.Fault{Err: collection.ErrHashMismatch})
	c.ObserveFault(&collection.Fault{Err: fmt.Errorf("slot 3: %w", collection.ErrSchemaDrift)})
	c.ObserveFault(&collection.Fault{Err: fmt.Errorf("missing owner")})
	require.Equal(t, 1.0, testutil.ToFloat64(c.Faults.WithLabelValues("hash_mismatch")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Faults.WithLabelValues("schema_drift")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Faults.WithLabelValues("compile")))

	c.ObserveTick(&collection.View{
		State:      collection.StateActive,
		Activated:  2,
		QueueLen:   1,
		FieldCount: 7,
		Entries: []collection.EntryView{
			{State: collection.Bound}, {State: collection.Bound}, {State: collection.PendingRemoteAssignment},
		},
	})
	require.Equal(t, 2.0, testutil.ToFloat64(c.TypesActive))
	require.Equal(t, 3.0, testutil.ToFloat64(c.TypesKnown))
	require.Equal(t, 1.0, testutil.ToFloat64(c.Pending))
	require.Equal(t, 7.0, testutil.ToFloat64(c.Fields))
	require.Equal(t, 1.0, testutil.ToFloat64(c.SessionState.WithLabelValues("active")))
	require.Equal(t, 0.0, testutil.ToFloat64(c.SessionState.WithLabelValues("idle")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
