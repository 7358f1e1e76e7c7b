package uploads

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/sheet"
)

func newStore(t *testing.T, maxSize int64) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), maxSize, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, err)
	return s
}

func TestStore_SaveAndResolve(t *testing.T) {
	s := newStore(t, 1024)
	ctx := context.Background()

	stored, err := s.Save(ctx, "Leads Export.CSV", strings.NewReader("Name\nA\n"))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(stored.Filename, ".csv"))
	assert.Equal(t, "Leads Export.CSV", stored.OriginalName)
	assert.EqualValues(t, 8, stored.Size)

	path, err := s.Path(stored.Filename)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Name\nA\n", string(data))

	require.NoError(t, s.Remove(ctx, stored.Filename))
	_, err = s.Path(stored.Filename)
	assert.ErrorIs(t, err, ErrNotFound)

	// removing twice is fine
	assert.NoError(t, s.Remove(ctx, stored.Filename))
}

func TestStore_RejectsTooLarge(t *testing.T) {
	s := newStore(t, 4)

	_, err := s.Save(context.Background(), "big.csv", strings.NewReader("12345"))
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_RejectsUnsupportedFormat(t *testing.T) {
	s := newStore(t, 0)

	_, err := s.Save(context.Background(), "notes.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, sheet.ErrUnsupportedFormat)
}

func TestStore_PathTraversal(t *testing.T) {
	s := newStore(t, 0)

	for _, name := range []string{"", "../etc/passwd", "a/b.csv", ".hidden"} {
		_, err := s.Path(name)
		assert.ErrorIs(t, err, ErrInvalidFilename, name)
	}
	assert.ErrorIs(t, s.Remove(context.Background(), "../x.csv"), ErrInvalidFilename)
}
