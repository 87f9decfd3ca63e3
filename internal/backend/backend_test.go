package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Steven-Chan/chat/internal/link"
	"github.com/Steven-Chan/chat/internal/record"
)

func TestOpen_Backends(t *testing.T) {
	for _, name := range Names {
		t.Run(name, func(t *testing.T) {
			s, err := OpenLinked(Options{Backend: name, Path: filepath.Join(t.TempDir(), "chat")})
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			first, err := s.Insert(ctx, record.Record{Conversation: "conv-1"})
			require.NoError(t, err)
			second, err := s.Insert(ctx, record.Record{Conversation: "conv-1"})
			require.NoError(t, err)
			assert.Equal(t, first.ID, second.Previous)

			_, err = s.ReadMessage(ctx, "missing")
			assert.True(t, IsNotFound(err), "ReadMessage(missing) error = %v", err)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "mongo", Path: ":memory:"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestOpen_StreamedSQLite(t *testing.T) {
	s, err := Open(Options{Backend: SQLite, Path: ":memory:", StreamedBackfill: true})
	require.NoError(t, err)
	defer s.Close()

	report, err := link.NewBackfill().RepairAllLinks(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, link.ModeStreamed, report.Mode)
}
