package monitor

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/pkg/compression"
	"github.com/ajitpratap0/reservoir/pkg/logger"
	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// LogSink writes a one-line summary of each snapshot to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink. A nil logger discards output.
func NewLogSink(l *zap.Logger) *LogSink {
	return &LogSink{logger: logger.OrNop(l)}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Export implements Sink.
func (s *LogSink) Export(_ context.Context, snap Snapshot) error {
	fields := []zap.Field{
		zap.Int("samples", snap.Samples),
		zap.Float64("rps", snap.RPS),
		zap.Float64("error_rate", snap.ErrorRate),
		zap.Float64("memory_ratio", snap.MemoryRatio),
		zap.Int("active", snap.Active),
		zap.Int("alerts", len(snap.Alerts)),
	}
	for k, v := range snap.Percentiles {
		fields = append(fields, zap.Float64(k+"_ms", v))
	}
	s.logger.Info("performance snapshot", fields...)
	for _, a := range snap.Alerts {
		s.logger.Warn("performance alert",
			zap.String("kind", string(a.Kind)),
			zap.String("severity", string(a.Severity)),
			zap.String("message", a.Message))
	}
	return nil
}

// JSONSink writes each snapshot as one JSON line to w.
type JSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONSink returns a sink writing to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{w: w}
}

// Name implements Sink.
func (s *JSONSink) Name() string { return "json" }

// Export implements Sink.
func (s *JSONSink) Export(_ context.Context, snap Snapshot) error {
	data, err := gojson.Marshal(snap)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(data)
	return err
}

// FileSink appends snapshots to a file. Without compression each snapshot
// is a JSON line. With compression each snapshot is one frame: a 4-byte
// big-endian length followed by the compressed JSON.
type FileSink struct {
	path string
	comp compression.Compressor

	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens path for appending.
func NewFileSink(path string, algo compression.Algorithm) (*FileSink, error) {
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo, Level: compression.Default})
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, reservoirerrors.Wrap(err, reservoirerrors.ErrorTypeExport, "failed to open snapshot file").
			WithDetail("path", path)
	}
	return &FileSink{path: path, comp: comp, f: f}, nil
}

// Name implements Sink.
func (s *FileSink) Name() string { return "file:" + s.path }

// Export implements Sink.
func (s *FileSink) Export(_ context.Context, snap Snapshot) error {
	data, err := gojson.Marshal(snap)
	if err != nil {
		return err
	}

	var frame []byte
	if s.comp.Algorithm() == compression.None {
		frame = append(data, '\n')
	} else {
		body, err := s.comp.Compress(data)
		if err != nil {
			return err
		}
		frame = make([]byte, 4, 4+len(body))
		binary.BigEndian.PutUint32(frame, uint32(len(body))) //nolint:gosec // snapshot frames are small
		frame = append(frame, body...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return reservoirerrors.New(reservoirerrors.ErrorTypeLifecycle, "file sink is closed")
	}
	_, err = s.f.Write(frame)
	return err
}

// Close closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// ReadSnapshots decodes a stream written by FileSink with algo.
func ReadSnapshots(r io.Reader, algo compression.Algorithm) ([]Snapshot, error) {
	comp, err := compression.NewCompressor(&compression.Config{Algorithm: algo})
	if err != nil {
		return nil, err
	}
	var out []Snapshot

	if comp.Algorithm() == compression.None {
		dec := gojson.NewDecoder(r)
		for {
			var snap Snapshot
			if err := dec.Decode(&snap); err != nil {
				if errors.Is(err, io.EOF) {
					return out, nil
				}
				return out, err
			}
			out = append(out, snap)
		}
	}

	br := bufio.NewReader(r)
	var hdr [4]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if n > compression.DefaultMaxDecompressedSize {
			return out, reservoirerrors.New(reservoirerrors.ErrorTypeExport, "snapshot frame exceeds size limit").
				WithDetail("frame_bytes", n).
				WithDetail("limit_bytes", compression.DefaultMaxDecompressedSize)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return out, err
		}
		data, err := comp.Decompress(body)
		if err != nil {
			return out, err
		}
		var snap Snapshot
		if err := gojson.Unmarshal(data, &snap); err != nil {
			return out, err
		}
		out = append(out, snap)
	}
}
