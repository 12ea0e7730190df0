package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Append(ctx, Record{
		TxnID:      "20260828100000-1",
		Kind:       "buy",
		Strategy:   "default",
		Instrument: "AAPL",
		Status:     StatusCompleted,
		Detail:     json.RawMessage(`{"quantity": 10}`),
		ElapsedMS:  42,
	}))
	require.NoError(t, l.Append(ctx, Record{
		TxnID:  "20260828100001-2",
		Kind:   "sell",
		Status: StatusFailed,
		Error:  "insufficient position",
	}))

	recent, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "sell", recent[0].Kind) // newest first
	assert.Equal(t, "buy", recent[1].Kind)
	assert.JSONEq(t, `{"quantity": 10}`, string(recent[1].Detail))
	assert.False(t, recent[0].CreatedAt.IsZero())

	counts, err := l.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusCompleted])
	assert.Equal(t, int64(1), counts[StatusFailed])
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
