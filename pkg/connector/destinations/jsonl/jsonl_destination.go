// Package jsonl writes record streams as newline-delimited JSON, one
// file per stream. Records routed to derived streams at extraction
// time get their own files, created on first sight.
package jsonl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/crmflow/crmflow/pkg/compression"
	"github.com/crmflow/crmflow/pkg/config"
	"github.com/crmflow/crmflow/pkg/connector/base"
	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/errors"
	jsonpool "github.com/crmflow/crmflow/pkg/json"
	"github.com/crmflow/crmflow/pkg/metrics"
	"github.com/crmflow/crmflow/pkg/pool"
)

const connectorVersion = "1.0.0"

// JSONLDestination writes one .jsonl file per stream under a
// directory.
type JSONLDestination struct {
	*base.BaseConnector

	config *config.JSONLDestinationConfig

	compressor compression.Compressor
	algorithm  compression.Algorithm

	writers map[string]*streamWriter
	mu      sync.Mutex

	recordsWritten int64
	bytesWritten   int64
}

// streamWriter is the open output for one stream file.
type streamWriter struct {
	file *os.File
	comp io.WriteCloser
	buf  *bufio.Writer
}

// NewJSONLDestination creates the destination from a validated
// configuration.
func NewJSONLDestination(cfg *config.JSONLDestinationConfig) (*JSONLDestination, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "jsonl: configuration is required")
	}

	d := &JSONLDestination{
		BaseConnector: base.NewBaseConnector("jsonl", core.ConnectorTypeDestination, connectorVersion),
		config:        cfg,
		writers:       make(map[string]*streamWriter),
	}
	d.Configure(&cfg.BaseConfig)
	return d, nil
}

// Initialize creates the output directory and the compressor.
func (d *JSONLDestination) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(d.config.Directory, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile,
			fmt.Sprintf("failed to create output directory %s", d.config.Directory))
	}

	d.algorithm = compression.None
	if d.config.Advanced.EnableCompression {
		alg, err := compression.ParseAlgorithm(d.config.Advanced.CompressionAlgorithm)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression algorithm")
		}
		level := compression.Level(d.config.Advanced.CompressionLevel)
		if level <= 0 {
			level = compression.Default
		}
		comp, err := compression.NewCompressor(&compression.Config{
			Algorithm: alg,
			Level:     level,
		})
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create compressor")
		}
		d.algorithm = alg
		d.compressor = comp
	}

	d.Logger().Info("jsonl destination initialized",
		zap.String("directory", d.config.Directory),
		zap.String("compression", string(d.algorithm)))
	return nil
}

// Write drains a stream, routing each record to the file named by its
// stream tag. Merge mode degrades to append; the file sink keeps every
// version and leaves deduplication to downstream loads.
func (d *JSONLDestination) Write(ctx context.Context, stream *core.NamedStream) error {
	if stream == nil || stream.Pages == nil {
		return errors.New(errors.ErrorTypeValidation, "jsonl: stream with pages is required")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		page, err := stream.Pages.Next(ctx)
		if err != nil {
			metrics.RecordsWritten.WithLabelValues(d.Name(), stream.Name, "failure").Inc()
			return errors.Wrap(err, errors.ErrorTypeData,
				fmt.Sprintf("reading stream %s", stream.Name))
		}
		if page == nil {
			return d.flushStreamFamily(stream.Name)
		}

		for _, rec := range page {
			target := rec.GetStreamID()
			if target == "" {
				target = stream.Name
			}
			if err := d.writeRecord(target, stream.Mode, rec); err != nil {
				metrics.RecordsWritten.WithLabelValues(d.Name(), target, "failure").Inc()
				return err
			}
			metrics.RecordsWritten.WithLabelValues(d.Name(), target, "success").Inc()
			rec.Release()
		}
		pool.PutBatchSlice(page)
	}
}

func (d *JSONLDestination) writeRecord(stream string, mode core.WriteMode, rec *pool.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, err := d.writerFor(stream, mode)
	if err != nil {
		return err
	}

	data, err := jsonpool.Marshal(rec.Data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData,
			fmt.Sprintf("encoding record for stream %s", stream))
	}
	if _, err := w.buf.Write(data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "writing record")
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "writing record")
	}

	atomic.AddInt64(&d.recordsWritten, 1)
	atomic.AddInt64(&d.bytesWritten, int64(len(data)+1))
	return nil
}

// writerFor returns the open writer for a stream, opening the file on
// first sight. Callers hold d.mu.
func (d *JSONLDestination) writerFor(stream string, mode core.WriteMode) (*streamWriter, error) {
	if w, ok := d.writers[stream]; ok {
		return w, nil
	}

	name := stream + ".jsonl" + compression.FileExtension(d.algorithm)
	path := filepath.Join(d.config.Directory, name)

	flags := os.O_CREATE | os.O_WRONLY
	if mode == core.WriteModeReplace && !d.config.Append {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile,
			fmt.Sprintf("opening %s", path))
	}

	var sink io.Writer = file
	var comp io.WriteCloser
	if d.compressor != nil {
		comp, err = d.compressor.NewWriter(file)
		if err != nil {
			file.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "creating compression writer")
		}
		sink = comp
	}

	bufferSize := d.config.Performance.BufferSize
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}

	w := &streamWriter{
		file: file,
		comp: comp,
		buf:  bufio.NewWriterSize(sink, bufferSize),
	}
	d.writers[stream] = w
	d.Logger().Debug("opened stream file", zap.String("stream", stream), zap.String("path", path))
	return w, nil
}

// flushStreamFamily flushes the parent stream's writer and any derived
// writers it routed records to.
func (d *JSONLDestination) flushStreamFamily(stream string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name, w := range d.writers {
		if name != stream && !hasStreamPrefix(name, stream) {
			continue
		}
		if err := w.buf.Flush(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile,
				fmt.Sprintf("flushing stream %s", name))
		}
	}
	return nil
}

func hasStreamPrefix(name, parent string) bool {
	return len(name) > len(parent) && name[:len(parent)] == parent
}

// Health verifies the output directory is writable.
func (d *JSONLDestination) Health(ctx context.Context) error {
	probe, err := os.CreateTemp(d.config.Directory, ".health-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeHealth, "output directory not writable")
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return nil
}

// Metrics returns connector counters for logging.
func (d *JSONLDestination) Metrics() map[string]interface{} {
	d.mu.Lock()
	open := len(d.writers)
	d.mu.Unlock()

	return map[string]interface{}{
		"records_written": atomic.LoadInt64(&d.recordsWritten),
		"bytes_written":   atomic.LoadInt64(&d.bytesWritten),
		"open_streams":    open,
		"compression":     string(d.algorithm),
	}
}

// Close flushes and closes every open stream file.
func (d *JSONLDestination) Close(ctx context.Context) error {
	d.mu.Lock()
	var firstErr error
	for name, w := range d.writers {
		if err := w.buf.Flush(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeFile,
				fmt.Sprintf("flushing stream %s", name))
		}
		if w.comp != nil {
			if err := w.comp.Close(); err != nil && firstErr == nil {
				firstErr = errors.Wrap(err, errors.ErrorTypeFile,
					fmt.Sprintf("closing compression for stream %s", name))
			}
		}
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeFile,
				fmt.Sprintf("closing stream %s", name))
		}
	}
	d.writers = make(map[string]*streamWriter)
	d.mu.Unlock()

	if err := d.BaseConnector.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
