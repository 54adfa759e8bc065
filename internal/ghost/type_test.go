package ghost

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseType_GUIDForms(t *testing.T) {
	a, err := ParseType("6f1c2b3a-4d5e-6f70-8192-a3b4c5d6e7f8")
	require.NoError(t, err)
	b, err := ParseType("6f1c2b3a4d5e6f708192a3b4c5d6e7f8")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, "6f1c2b3a4d5e6f708192a3b4c5d6e7f8", a.String())
	require.Equal(t, a, TypeFromBytes(a.Bytes()))
}

func TestResolveType_FallsBackToDerived(t *testing.T) {
	got := ResolveType("Assets/Prefabs/Player.prefab")
	require.False(t, got.IsZero())
	require.Equal(t, DeriveType("Assets/Prefabs/Player.prefab"), got)
	require.NotEqual(t, DeriveType("Assets/Prefabs/Enemy.prefab"), got)
}

func TestType_TextRoundTrip(t *testing.T) {
	want := DeriveType("bullet")
	text, err := want.MarshalText()
	require.NoError(t, err)
	var got Type
	require.NoError(t, got.UnmarshalText(text))
	require.Equal(t, want, got)
}

func TestSupportedModes_Allows(t *testing.T) {
	require.True(t, SupportAll.Allows(ModeOwnerPredicted))
	require.True(t, SupportInterpolatedOnly.Allows(ModeInterpolated))
	require.False(t, SupportInterpolatedOnly.Allows(ModePredicted))
	require.False(t, SupportPredictedOnly.Allows(ModeOwnerPredicted))
}

func TestPrefabType_KeepsOn(t *testing.T) {
	require.True(t, PrefabServer.KeepsOn(RoleServer, ModePredicted))
	require.False(t, PrefabServer.KeepsOn(RoleClient, ModePredicted))
	require.True(t, PrefabInterpolatedClient.KeepsOn(RoleClient, ModeInterpolated))
	require.False(t, PrefabInterpolatedClient.KeepsOn(RoleClient, ModeOwnerPredicted))
	require.True(t, PrefabPredictedClient.KeepsOn(RoleClient, ModeOwnerPredicted))
}
