package esmon_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coder/esmon"
)

func TestKinds(t *testing.T) {
	t.Parallel()

	kinds := esmon.Kinds()
	require.Len(t, kinds, 51)
	require.True(t, sort.SliceIsSorted(kinds, func(i, j int) bool { return kinds[i] < kinds[j] }))
	for _, k := range kinds {
		require.True(t, k.Supported(), k)
	}
	require.False(t, esmon.Kind("nope").Supported())

	require.True(t, esmon.KindOpen.HasAuth())
	require.False(t, esmon.KindClose.HasAuth())
	require.False(t, esmon.KindExit.HasAuth())
	require.Len(t, esmon.NotifyTypes(), 51)
	require.Len(t, esmon.AuthTypes(), 39)
}

func TestEventTypeFor(t *testing.T) {
	t.Parallel()

	et, err := esmon.EventTypeFor(esmon.KindOpen, esmon.ActionAuth)
	require.NoError(t, err)
	require.Equal(t, "+open", et.String())

	et, err = esmon.EventTypeFor(esmon.KindWrite, esmon.ActionNotify)
	require.NoError(t, err)
	require.Equal(t, "write", et.String())

	_, err = esmon.EventTypeFor(esmon.KindWrite, esmon.ActionAuth)
	require.Error(t, err)
	_, err = esmon.EventTypeFor("nope", esmon.ActionNotify)
	require.Error(t, err)
}
