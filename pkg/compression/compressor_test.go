package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompressor(t *testing.T) {
	t.Run("nil config falls back to default", func(t *testing.T) {
		c, err := NewCompressor(nil)
		require.NoError(t, err)
		assert.Equal(t, Gzip, c.Algorithm())
	})

	t.Run("unsupported algorithm rejected", func(t *testing.T) {
		_, err := NewCompressor(&Config{Algorithm: "lzma"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported compression algorithm")
	})
}

func TestRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("INSERT INTO `shop`.`orders` VALUES (1, 'pending');\n", 200))

	for _, algo := range []Algorithm{None, Gzip, Zstd} {
		t.Run(string(algo), func(t *testing.T) {
			c, err := NewCompressor(&Config{Algorithm: algo, Level: Default})
			require.NoError(t, err)
			assert.Equal(t, algo, c.Algorithm())

			compressed, err := c.Compress(payload)
			require.NoError(t, err)
			if algo != None {
				assert.Less(t, len(compressed), len(payload))
			}

			restored, err := c.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, payload, restored)
		})
	}
}

func TestStreamRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("segment bytes 0123456789\n", 500))

	for _, algo := range []Algorithm{None, Gzip, Zstd} {
		t.Run(string(algo), func(t *testing.T) {
			c, err := NewCompressor(&Config{Algorithm: algo, Level: Fastest})
			require.NoError(t, err)

			var compressed bytes.Buffer
			require.NoError(t, c.CompressStream(&compressed, bytes.NewReader(payload)))

			var restored bytes.Buffer
			require.NoError(t, c.DecompressStream(&restored, &compressed))
			assert.Equal(t, payload, restored.Bytes())
		})
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".gz", (&Config{Algorithm: Gzip}).Extension())
	assert.Equal(t, ".zst", (&Config{Algorithm: Zstd}).Extension())
	assert.Equal(t, "", (&Config{Algorithm: None}).Extension())
}
