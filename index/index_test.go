package index

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db := New(WithNoSync(true))
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, db.Open(path))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db := New(WithNoSync(true))
	require.NoError(t, db.Open(path))
	require.NoError(t, db.Close())

	// Reopening runs schema bootstrap again; it must be safe.
	db = New(WithNoSync(true))
	require.NoError(t, db.Open(path))
	require.NoError(t, db.Close())
}

func TestFileSize(t *testing.T) {
	db := setupTestDB(t)

	size, err := db.FileSize()
	require.NoError(t, err)
	require.Positive(t, size)
}

func TestTimestampEncodingOrder(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Nanosecond)
	t3 := t1.Add(time.Hour)

	b1 := encodeTimestamp(t1)
	b2 := encodeTimestamp(t2)
	b3 := encodeTimestamp(t3)

	require.Less(t, string(b1), string(b2))
	require.Less(t, string(b2), string(b3))

	require.True(t, decodeTimestamp(b1).Equal(t1))
	require.True(t, decodeTimestamp(b3).Equal(t3))
}

func TestCodecRoundTrip(t *testing.T) {
	c, err := newCodec()
	require.NoError(t, err)
	defer c.close()

	tests := []struct {
		name string
		data []byte
	}{
		{"small stays raw", []byte("tiny payload")},
		{"large gets compressed", []byte(strings.Repeat("mail body content ", 500))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := c.encode(tt.data)
			require.NoError(t, err)

			decoded, err := c.decode(encoded)
			require.NoError(t, err)
			require.Equal(t, tt.data, decoded)
		})
	}
}

func TestCodecCompressesLargePayloads(t *testing.T) {
	c, err := newCodec()
	require.NoError(t, err)
	defer c.close()

	data := []byte(strings.Repeat("highly repetitive content ", 1000))
	encoded, err := c.encode(data)
	require.NoError(t, err)
	require.Equal(t, byte(encodingZstd), encoded[0])
	require.Less(t, len(encoded), len(data))
}

func TestCodecRejectsCorrupted(t *testing.T) {
	c, err := newCodec()
	require.NoError(t, err)
	defer c.close()

	_, err = c.decode(nil)
	require.ErrorIs(t, err, ErrCorrupted)

	_, err = c.decode([]byte{0xff, 0x01, 0x02})
	require.ErrorIs(t, err, ErrCorrupted)

	_, err = c.decode([]byte{encodingZstd, 0x00, 0x01})
	require.ErrorIs(t, err, ErrCorrupted)
}
