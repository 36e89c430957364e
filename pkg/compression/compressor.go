// Package compression provides the codecs used to frame exported snapshots
// on disk. It supports gzip, snappy, s2, lz4 and zstd with configurable
// levels and pooled compressor instances.
//
// # Algorithm Selection
//
//   - Snappy/S2: best for speed, moderate compression
//   - LZ4: extremely fast, decent compression
//   - Zstd: best compression ratio, good speed
//   - Gzip: wide compatibility
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Zstd,
//	    Level:     compression.Default,
//	})
//	compressed, err := comp.Compress(data)
//	original, err := comp.Decompress(compressed)
package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/ajitpratap0/reservoir/pkg/pool"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy compression
	Snappy Algorithm = "snappy"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// LZ4 represents lz4 compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{None, Gzip, Snappy, S2, LZ4, Zstd}
}

// ParseAlgorithm returns the algorithm named s. The empty string means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return None, nil
	}
	for _, a := range Algorithms() {
		if string(a) == s {
			return a, nil
		}
	}
	return "", reservoirerrors.New(reservoirerrors.ErrorTypeConfig, "unsupported compression algorithm").
		WithDetail("algorithm", s)
}

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio
	Fastest Level = 1
	// Default balances speed and compression
	Default Level = 5
	// Better improves compression at cost of speed
	Better Level = 7
	// Best maximizes compression ratio
	Best Level = 9
)

func (l Level) String() string {
	switch l {
	case Fastest:
		return "fastest"
	case Default:
		return "default"
	case Better:
		return "better"
	case Best:
		return "best"
	default:
		return "unknown"
	}
}

// DefaultMaxDecompressedSize bounds Decompress output when Config leaves it unset.
const DefaultMaxDecompressedSize = 64 << 20

// Compressor provides compression and decompression functionality.
// All implementations are safe for concurrent use.
type Compressor interface {
	// Compress compresses data and returns the compressed bytes.
	Compress(data []byte) ([]byte, error)
	// Decompress decompresses data and returns the original bytes.
	Decompress(data []byte) ([]byte, error)
	// Algorithm returns the compression algorithm used.
	Algorithm() Algorithm
	// Level returns the compression level configured.
	Level() Level
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm
	Level     Level
	// MaxDecompressedSize caps the output of Decompress
	MaxDecompressedSize int64
}

// DefaultConfig returns snappy at the default level.
func DefaultConfig() *Config {
	return &Config{
		Algorithm:           Snappy,
		Level:               Default,
		MaxDecompressedSize: DefaultMaxDecompressedSize,
	}
}

// NewCompressor creates a compressor for config. A nil config uses DefaultConfig.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	base := baseCompressor{algorithm: config.Algorithm, level: config.Level, maxSize: config.MaxDecompressedSize}
	if base.maxSize <= 0 {
		base.maxSize = DefaultMaxDecompressedSize
	}
	if base.level == 0 {
		base.level = Default
	}

	switch config.Algorithm {
	case None, "":
		base.algorithm = None
		return &noneCompressor{baseCompressor: base}, nil
	case Gzip:
		return newGzipCompressor(base)
	case Snappy:
		return &snappyCompressor{baseCompressor: base}, nil
	case S2:
		return &s2Compressor{baseCompressor: base}, nil
	case LZ4:
		return &lz4Compressor{baseCompressor: base, compressionLevel: mapLZ4Level(base.level)}, nil
	case Zstd:
		return newZstdCompressor(base)
	default:
		return nil, reservoirerrors.New(reservoirerrors.ErrorTypeConfig, "unsupported compression algorithm").
			WithDetail("algorithm", string(config.Algorithm))
	}
}

type baseCompressor struct {
	algorithm Algorithm
	level     Level
	maxSize   int64
}

// Algorithm returns the compression algorithm
func (bc *baseCompressor) Algorithm() Algorithm {
	return bc.algorithm
}

// Level returns the compression level
func (bc *baseCompressor) Level() Level {
	return bc.level
}

// readAll drains r up to the size cap.
func (bc *baseCompressor) readAll(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	n, err := io.Copy(&out, io.LimitReader(r, bc.maxSize+1))
	if err != nil {
		return nil, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeInternal, "decompression failed").
			WithDetail("algorithm", string(bc.algorithm))
	}
	if n > bc.maxSize {
		return nil, reservoirerrors.New(reservoirerrors.ErrorTypeCapacity, "decompressed data exceeds size limit").
			WithDetail("limit", bc.maxSize)
	}
	return out.Bytes(), nil
}

func (bc *baseCompressor) checkDecoded(out []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeInternal, "decompression failed").
			WithDetail("algorithm", string(bc.algorithm))
	}
	if int64(len(out)) > bc.maxSize {
		return nil, reservoirerrors.New(reservoirerrors.ErrorTypeCapacity, "decompressed data exceeds size limit").
			WithDetail("limit", bc.maxSize)
	}
	return out, nil
}

type noneCompressor struct {
	baseCompressor
}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) {
	return nc.checkDecoded(data, nil)
}

type gzipCompressor struct {
	baseCompressor
	writers *pool.Pool[*gzip.Writer]
}

func newGzipCompressor(base baseCompressor) (*gzipCompressor, error) {
	level := mapGzipLevel(base.level)
	if _, err := gzip.NewWriterLevel(io.Discard, level); err != nil {
		return nil, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeConfig, "invalid gzip level")
	}
	gc := &gzipCompressor{baseCompressor: base}
	gc.writers = pool.New(func() *gzip.Writer {
		w, _ := gzip.NewWriterLevel(nil, level)
		return w
	}, nil)
	return gc, nil
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w := gc.writers.Get()
	defer gc.writers.Put(w)

	w.Reset(&out)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeInternal, "invalid gzip stream")
	}
	defer r.Close()
	return gc.readAll(r)
}

type snappyCompressor struct {
	baseCompressor
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if n, err := snappy.DecodedLen(data); err == nil && int64(n) > sc.maxSize {
		return nil, reservoirerrors.New(reservoirerrors.ErrorTypeCapacity, "decompressed data exceeds size limit").
			WithDetail("limit", sc.maxSize)
	}
	return sc.checkDecoded(snappy.Decode(nil, data))
}

// s2 is snappy compatible but compresses better
type s2Compressor struct {
	baseCompressor
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	if n, err := s2.DecodedLen(data); err == nil && int64(n) > sc.maxSize {
		return nil, reservoirerrors.New(reservoirerrors.ErrorTypeCapacity, "decompressed data exceeds size limit").
			WithDetail("limit", sc.maxSize)
	}
	return sc.checkDecoded(s2.Decode(nil, data))
}

type lz4Compressor struct {
	baseCompressor
	compressionLevel lz4.CompressionLevel
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if err := w.Apply(lz4.CompressionLevelOption(lc.compressionLevel)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return lc.readAll(lz4.NewReader(bytes.NewReader(data)))
}

type zstdCompressor struct {
	baseCompressor
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor(base baseCompressor) (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(mapZstdLevel(base.level)))
	if err != nil {
		return nil, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeInternal, "failed to create zstd encoder")
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(base.maxSize))) //nolint:gosec // maxSize is positive
	if err != nil {
		return nil, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeInternal, "failed to create zstd decoder")
	}
	return &zstdCompressor{baseCompressor: base, encoder: enc, decoder: dec}, nil
}

// EncodeAll and DecodeAll are safe for concurrent use on a shared coder.
func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return zc.checkDecoded(zc.decoder.DecodeAll(data, nil))
}

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
