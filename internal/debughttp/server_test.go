package debughttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/l1jgo/ghostreg/internal/collection"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/metrics"
	"github.com/l1jgo/ghostreg/internal/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testView() *collection.View {
	player := &schema.Schema{
		Name:                 "Player",
		TypeHash:             0xABCD,
		FieldCount:           1,
		SnapshotRecordBytes:  32,
		OwnerFieldByteOffset: -1,
		Fields: []schema.Field{
			{TypeName: "Translation", Offset: 16, Size: 16, MaskBits: 3, SendMask: ghost.SendAll},
		},
	}
	return &collection.View{
		Tick:      9,
		State:     collection.StateActive,
		Role:      ghost.RoleClient,
		Activated: 1,
		Entries: []collection.EntryView{
			{Index: 0, Type: ghost.DeriveType("Player"), Name: "Player", State: collection.Bound, Announced: true, ExpectedHash: 0xABCD, Compiles: 1, Schema: player},
			{Index: 1, Type: ghost.DeriveType("Crate"), Name: "Crate", State: collection.PendingRemoteAssignment, Announced: true, ExpectedHash: 0x1},
		},
		GhostNames:           []string{"Player"},
		PredictionErrorNames: []string{"Player.Translation.x"},
		PredictionErrorSlots: 1,
	}
}

func newTestServer(t *testing.T, v *collection.View) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.NewWithRegistry(reg).ObserveTick(v)
	h := NewHandler(func() *collection.View { return v }, reg, zap.NewNop())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRoutes(t *testing.T) {
	v := testView()
	srv := newTestServer(t, v)

	var health healthResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &health))
	require.Equal(t, "active", health.State)
	require.Equal(t, "client", health.Role)

	var list []ghostSummary
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/ghosts", &list))
	require.Len(t, list, 2)
	require.True(t, list[0].Active)
	require.Equal(t, "0x000000000000abcd", list[0].TypeHash)
	require.False(t, list[1].Active)
	require.Equal(t, "pending_remote_assignment", list[1].State)

	var d ghostDetail
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/ghosts/Player", &d))
	require.Len(t, d.FieldList, 1)
	require.Equal(t, 16, d.FieldList[0].Offset)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/ghosts/"+v.Entries[1].Type.String(), &d))
	require.Equal(t, "Crate", d.Name)
	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/ghosts/Nope", nil))

	var names []string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/names", &names))
	require.Equal(t, []string{"Player"}, names)

	var pe predictionErrors
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/prediction-errors", &pe))
	require.Equal(t, 1, pe.Slots)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth_Draining(t *testing.T) {
	v := testView()
	v.State = collection.StateDraining
	srv := newTestServer(t, v)
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/healthz", nil))
}
