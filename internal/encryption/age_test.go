package encryption_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cercasp-go/internal/encryption"
)

// Low scrypt work factor keeps the tests fast.
const testWorkFactor = 10

func TestArchiveSealer_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "simple text", input: []byte("hello world")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
		{name: "large data", input: bytes.Repeat([]byte("abcdef"), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, err := encryption.NewArchiveSealer("clave-test", testWorkFactor)
			require.NoError(t, err)

			var sealed bytes.Buffer
			require.NoError(t, s.Seal(bytes.NewReader(tt.input), &sealed))
			if len(tt.input) > 0 {
				assert.NotContains(t, sealed.String(), string(tt.input))
			}

			var opened bytes.Buffer
			require.NoError(t, s.Open(&sealed, &opened))
			assert.Equal(t, tt.input, opened.Bytes())
		})
	}
}

func TestArchiveSealer_WrongPassphrase(t *testing.T) {
	t.Parallel()

	writer, err := encryption.NewArchiveSealer("clave-test", testWorkFactor)
	require.NoError(t, err)
	reader, err := encryption.NewArchiveSealer("otra-clave", testWorkFactor)
	require.NoError(t, err)

	var sealed bytes.Buffer
	require.NoError(t, writer.Seal(bytes.NewReader([]byte("queue snapshot")), &sealed))

	var opened bytes.Buffer
	assert.Error(t, reader.Open(&sealed, &opened))
	assert.Zero(t, opened.Len())
}

func TestNewArchiveSealer_EmptyPassphrase(t *testing.T) {
	t.Parallel()
	_, err := encryption.NewArchiveSealer("", 0)
	assert.Error(t, err)
}
