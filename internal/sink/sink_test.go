package sink

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ArgLab/lo-event/internal/storage"
)

func TestRegisterResolvesCapabilities(t *testing.T) {
	console := Register(NewConsole(&bytes.Buffer{}))
	require.Nil(t, console.Init, "console has no setup hook")
	require.NotNil(t, console.Fields)
	require.NotNil(t, console.Inspector)

	noop := Register(Noop{})
	require.Nil(t, noop.Init)
	require.Nil(t, noop.Fields)
	require.Nil(t, noop.Inspector)
}

func TestConsoleWritesLinesAndRemembersFields(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	block, err := c.Log(context.Background(), `{"event":"x"}`)
	require.NoError(t, err)
	require.Nil(t, block)
	require.Equal(t, "{\"event\":\"x\"}\n", buf.String())

	require.NoError(t, c.SetFields(context.Background(), `{"source":"S"}`))
	require.NoError(t, c.SetFields(context.Background(), `{"version":"V"}`))
	fields := c.LockFields()
	require.Equal(t, "S", fields["source"])
	require.Equal(t, "V", fields["version"])
}

func TestStoreRecordsEvents(t *testing.T) {
	kv := storage.NewMemory()
	s := NewStore(kv, "")
	for _, line := range []string{`{"n":1}`, `{"n":2}`} {
		_, err := s.Log(context.Background(), line)
		require.NoError(t, err)
	}
	all, err := kv.Get(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.JSONEq(t, `{"n":1}`, string(all["loevent.events.0"]))
	require.JSONEq(t, `{"n":2}`, string(all["loevent.events.1"]))
}

func TestFilteredDropsNonMatching(t *testing.T) {
	var buf bytes.Buffer
	f, err := NewFiltered(NewConsole(&buf), `event == "keystroke"`)
	require.NoError(t, err)

	_, err = f.Log(context.Background(), `{"event":"keystroke","key":"a"}`)
	require.NoError(t, err)
	_, err = f.Log(context.Background(), `{"event":"pointer","x":3}`)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "keystroke")
}

func TestFilteredEmptyExpressionPassesEverything(t *testing.T) {
	var buf bytes.Buffer
	f, err := NewFiltered(NewConsole(&buf), "  ")
	require.NoError(t, err)
	_, err = f.Log(context.Background(), `{"event":"anything"}`)
	require.NoError(t, err)
	require.NotEmpty(t, buf.String())
}

func TestFilteredRejectsBadExpression(t *testing.T) {
	_, err := NewFiltered(Noop{}, `event ==`)
	require.Error(t, err)
}
