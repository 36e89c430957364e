package compression

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

func TestRoundTripAllAlgorithms(t *testing.T) {
	original := bytes.Repeat([]byte(`{"p99_ms":12.5,"rps":1400,"alerts":[]}`+"\n"), 200)

	for _, algo := range Algorithms() {
		for _, level := range []Level{Fastest, Default, Better, Best} {
			t.Run(fmt.Sprintf("%s/%s", algo, level), func(t *testing.T) {
				comp, err := NewCompressor(&Config{Algorithm: algo, Level: level})
				require.NoError(t, err)
				assert.Equal(t, algo, comp.Algorithm())
				assert.Equal(t, level, comp.Level())

				compressed, err := comp.Compress(original)
				require.NoError(t, err)
				if algo != None {
					assert.Less(t, len(compressed), len(original))
				}

				decompressed, err := comp.Decompress(compressed)
				require.NoError(t, err)
				assert.Equal(t, original, decompressed)
			})
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, a)

	a, err = ParseAlgorithm("zstd")
	require.NoError(t, err)
	assert.Equal(t, Zstd, a)

	_, err = ParseAlgorithm("brotli")
	assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeConfig))

	_, err = NewCompressor(&Config{Algorithm: "brotli"})
	assert.True(t, reservoirerrors.IsType(err, reservoirerrors.ErrorTypeConfig))
}

func TestNilConfigUsesDefaults(t *testing.T) {
	comp, err := NewCompressor(nil)
	require.NoError(t, err)
	assert.Equal(t, Snappy, comp.Algorithm())
	assert.Equal(t, Default, comp.Level())
}

func TestDecompressSizeLimit(t *testing.T) {
	original := bytes.Repeat([]byte("a"), 4096)

	for _, algo := range []Algorithm{Gzip, Snappy, S2, LZ4, Zstd} {
		t.Run(string(algo), func(t *testing.T) {
			big, err := NewCompressor(&Config{Algorithm: algo})
			require.NoError(t, err)
			compressed, err := big.Compress(original)
			require.NoError(t, err)

			small, err := NewCompressor(&Config{Algorithm: algo, MaxDecompressedSize: 1024})
			require.NoError(t, err)
			_, err = small.Decompress(compressed)
			require.Error(t, err)
		})
	}
}

func TestDecompressGarbage(t *testing.T) {
	for _, algo := range []Algorithm{Gzip, Snappy, S2, LZ4, Zstd} {
		comp, err := NewCompressor(&Config{Algorithm: algo})
		require.NoError(t, err)
		_, err = comp.Decompress([]byte("definitely not compressed"))
		assert.Error(t, err, string(algo))
	}
}

func TestConcurrentCompress(t *testing.T) {
	for _, algo := range []Algorithm{Gzip, Zstd} {
		comp, err := NewCompressor(&Config{Algorithm: algo})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				in := bytes.Repeat([]byte(fmt.Sprintf("frame-%d;", i)), 100)
				out, err := comp.Compress(in)
				assert.NoError(t, err)
				back, err := comp.Decompress(out)
				assert.NoError(t, err)
				assert.Equal(t, in, back)
			}(i)
		}
		wg.Wait()
	}
}

func BenchmarkCompress(b *testing.B) {
	data := bytes.Repeat([]byte(`{"latency_ms":3.2,"status":200}`), 512)
	for _, algo := range []Algorithm{Gzip, Snappy, S2, LZ4, Zstd} {
		comp, err := NewCompressor(&Config{Algorithm: algo})
		if err != nil {
			b.Fatal(err)
		}
		b.Run(string(algo), func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			for i := 0; i < b.N; i++ {
				if _, err := comp.Compress(data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
