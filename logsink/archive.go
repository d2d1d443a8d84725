// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logsink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/procbridge/lib/clock"
	"github.com/bureau-foundation/procbridge/lib/codec"
	"github.com/bureau-foundation/procbridge/logstream"
)

// maxArchiveDecoderMemory bounds the zstd window a reader will accept,
// so an archive from elsewhere cannot demand unbounded memory.
const maxArchiveDecoderMemory = 64 << 20

// ArchiveEntry is one archived record. Message holds "<private>" for
// entries that were not public.
type ArchiveEntry struct {
	TimeUnixNano int64  `cbor:"time_ns"`
	Subsystem    string `cbor:"subsystem,omitempty"`
	Category     string `cbor:"category,omitempty"`
	Severity     uint8  `cbor:"severity"`
	PID          int32  `cbor:"pid"`
	Message      string `cbor:"message"`
	Originator   string `cbor:"originator,omitempty"`
}

// ArchiveSink appends entries as a stream of CBOR items inside one
// zstd stream. Close must be called to finish the stream.
type ArchiveSink struct {
	*Registry
	clock clock.Clock

	mu         sync.Mutex
	compressor *zstd.Encoder
	encoder    *codec.Encoder
	closer     io.Closer
	closed     bool
}

// NewArchiveSink writes an archive to w. The caller closes w after
// Close returns.
func NewArchiveSink(w io.Writer, maxHandles int, c clock.Clock) (*ArchiveSink, error) {
	compressor, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	if c == nil {
		c = clock.Real()
	}
	return &ArchiveSink{
		Registry:   NewRegistry(maxHandles),
		clock:      c,
		compressor: compressor,
		encoder:    codec.NewEncoder(compressor),
	}, nil
}

// CreateArchive creates (or truncates) the archive at path.
func CreateArchive(path string, maxHandles int, c clock.Clock) (*ArchiveSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	sink, err := NewArchiveSink(file, maxHandles, c)
	if err != nil {
		file.Close()
		return nil, err
	}
	sink.closer = file
	return sink, nil
}

// Emit implements logstream.Sink.
func (sink *ArchiveSink) Emit(handle logstream.Handle, entry logstream.Entry) error {
	archived := ArchiveEntry{
		TimeUnixNano: sink.clock.Now().UnixNano(),
		Subsystem:    handle.Subsystem(),
		Category:     handle.Category(),
		Severity:     uint8(entry.Severity),
		PID:          entry.PID,
		Message:      entry.Message,
		Originator:   entry.Originator,
	}
	if !entry.Public {
		archived.Message = "<private>"
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.closed {
		return errors.New("logsink: archive closed")
	}
	if err := sink.encoder.Encode(archived); err != nil {
		return fmt.Errorf("archiving entry: %w", err)
	}
	return nil
}

// Flush writes buffered entries through to the underlying writer.
func (sink *ArchiveSink) Flush() error {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.closed {
		return nil
	}
	return sink.compressor.Flush()
}

// Close finishes the zstd stream and closes the archive file if
// CreateArchive opened it. Close is idempotent.
func (sink *ArchiveSink) Close() error {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.closed {
		return nil
	}
	sink.closed = true
	err := sink.compressor.Close()
	if sink.closer != nil {
		if closeErr := sink.closer.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// ReadArchive decodes every entry in an archive, calling visit for
// each in order. An error from visit stops the read and is returned.
func ReadArchive(r io.Reader, visit func(ArchiveEntry) error) error {
	decompressor, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(maxArchiveDecoderMemory))
	if err != nil {
		return fmt.Errorf("opening zstd stream: %w", err)
	}
	defer decompressor.Close()

	decoder := codec.NewDecoder(decompressor)
	for index := 0; ; index++ {
		var entry ArchiveEntry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decoding archive entry %d: %w", index, err)
		}
		if err := visit(entry); err != nil {
			return err
		}
	}
}

// DiagnoseArchive writes the CBOR diagnostic notation of every item in
// an archive to w, one item per line.
func DiagnoseArchive(r io.Reader, w io.Writer) error {
	decompressor, err := zstd.NewReader(r, zstd.WithDecoderMaxMemory(maxArchiveDecoderMemory))
	if err != nil {
		return fmt.Errorf("opening zstd stream: %w", err)
	}
	defer decompressor.Close()

	data, err := io.ReadAll(decompressor)
	if err != nil {
		return fmt.Errorf("decompressing archive: %w", err)
	}
	for len(data) > 0 {
		notation, rest, err := codec.DiagnoseFirst(data)
		if err != nil {
			return fmt.Errorf("diagnosing archive item: %w", err)
		}
		if _, err := io.WriteString(w, strings.TrimSpace(notation)+"\n"); err != nil {
			return err
		}
		data = rest
	}
	return nil
}
