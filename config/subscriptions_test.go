package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coder/esmon"
	"github.com/coder/esmon/config"
)

func TestParseSubscriptions(t *testing.T) {
	t.Parallel()

	open := esmon.EventType{Kind: esmon.KindOpen, Action: esmon.ActionNotify}
	authOpen := esmon.EventType{Kind: esmon.KindOpen, Action: esmon.ActionAuth}

	subs, err := config.ParseSubscriptions([]string{"all,-open"})
	require.NoError(t, err)
	require.Len(t, subs, len(esmon.NotifyTypes())-1)
	require.NotContains(t, subs, open)

	subs, err = config.ParseSubscriptions([]string{"+all", "-+open", "open"})
	require.NoError(t, err)
	require.Len(t, subs, len(esmon.AuthTypes()))
	require.NotContains(t, subs, authOpen)
	require.Equal(t, open, subs[len(subs)-1])

	subs, err = config.ParseSubscriptions([]string{"open, open ,close"})
	require.NoError(t, err)
	require.Equal(t, []esmon.EventType{open, {Kind: esmon.KindClose, Action: esmon.ActionNotify}}, subs)

	subs, err = config.ParseSubscriptions(nil)
	require.NoError(t, err)
	require.Empty(t, subs)

	_, err = config.ParseSubscriptions([]string{"-open"})
	require.Error(t, err)
	_, err = config.ParseSubscriptions([]string{"+close"})
	require.Error(t, err)
	_, err = config.ParseSubscriptions([]string{"nope"})
	require.Error(t, err)
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	lines := config.ListEvents()
	require.Len(t, lines, len(esmon.Kinds()))
	require.Contains(t, lines, "open [+]")
	require.Contains(t, lines, "close")
	require.Contains(t, lines, "exit")
}
