// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Region layout: the producer's write index at offset 0 and the
// consumer's read index at offset 64, each on its own cache line, then
// the ring data at bufferHeaderSize. Indices are monotonically
// increasing byte counts; the ring offset is index & (capacity-1).
const (
	writeIndexOffset = 0
	readIndexOffset  = 64
	bufferHeaderSize = 128

	// MinBufferCapacity is the smallest ring StreamBuffer accepts.
	MinBufferCapacity = 64

	// MaxBufferCapacity bounds a ring mapped from a peer-supplied
	// memfd.
	MaxBufferCapacity = 64 << 20
)

// StreamBuffer is a single-producer/single-consumer ring of
// length-prefixed frames. One goroutine (or process) calls TryWrite;
// one other goroutine calls TryRead.
//
// Each side keeps its own position privately and only publishes it to
// the shared header, so a peer scribbling on shared memory can corrupt
// the data it sends but cannot move this side's cursor.
type StreamBuffer struct {
	region []byte
	data   []byte
	mask   uint64

	writeIndex *atomic.Uint64
	readIndex  *atomic.Uint64

	// Owned by the producer.
	localWrite uint64
	// Owned by the consumer.
	localRead uint64

	file      *os.File
	release   func() error
	closeOnce sync.Once
	closeErr  error
}

// NewStreamBuffer allocates an in-process ring with the given data
// capacity, which must be a power of two of at least MinBufferCapacity.
func NewStreamBuffer(capacity int) (*StreamBuffer, error) {
	if err := validateCapacity(capacity); err != nil {
		return nil, err
	}
	// Backing the region with uint64s guarantees the 8-byte alignment
	// the atomic indices need.
	words := make([]uint64, (bufferHeaderSize+capacity)/8)
	region := unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
	return newStreamBufferOverRegion(region, nil)
}

func validateCapacity(capacity int) error {
	if capacity < MinBufferCapacity || capacity > MaxBufferCapacity {
		return fmt.Errorf("stream buffer capacity %d outside [%d, %d]", capacity, MinBufferCapacity, MaxBufferCapacity)
	}
	if capacity&(capacity-1) != 0 {
		return fmt.Errorf("stream buffer capacity %d is not a power of two", capacity)
	}
	return nil
}

// newStreamBufferOverRegion lays a ring over region, which must be
// 8-byte aligned and bufferHeaderSize plus a valid capacity long.
// Both local positions start from the published indices.
func newStreamBufferOverRegion(region []byte, release func() error) (*StreamBuffer, error) {
	capacity := len(region) - bufferHeaderSize
	if err := validateCapacity(capacity); err != nil {
		return nil, err
	}
	buffer := &StreamBuffer{
		region:     region,
		data:       region[bufferHeaderSize:],
		mask:       uint64(capacity - 1),
		writeIndex: (*atomic.Uint64)(unsafe.Pointer(&region[writeIndexOffset])),
		readIndex:  (*atomic.Uint64)(unsafe.Pointer(&region[readIndexOffset])),
		release:    release,
	}
	buffer.localWrite = buffer.writeIndex.Load()
	buffer.localRead = buffer.readIndex.Load()
	return buffer, nil
}

// Capacity returns the size of the ring data area in bytes.
func (buffer *StreamBuffer) Capacity() int {
	return len(buffer.data)
}

// File returns the memfd backing a shared buffer, or nil for an
// in-process buffer. The buffer retains ownership.
func (buffer *StreamBuffer) File() *os.File {
	return buffer.file
}

// TryWrite appends payload as one frame. It returns false without
// writing anything when the ring lacks space for the whole frame.
// A payload that could never fit returns ErrFrameTooLarge.
func (buffer *StreamBuffer) TryWrite(payload []byte) (bool, error) {
	frameLength := uint64(frameHeaderLength + len(payload))
	if len(payload) > MaxPayloadLength || frameLength > uint64(len(buffer.data)) {
		return false, fmt.Errorf("%w: %d byte payload in a %d byte ring", ErrFrameTooLarge, len(payload), len(buffer.data))
	}

	read := buffer.readIndex.Load()
	used := buffer.localWrite - read
	if used > uint64(len(buffer.data)) {
		// The consumer published a read index ahead of anything we
		// wrote. Treat the ring as full until it recovers.
		return false, nil
	}
	if uint64(len(buffer.data))-used < frameLength {
		return false, nil
	}

	var header [frameHeaderLength]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	buffer.copyIn(buffer.localWrite, header[:])
	buffer.copyIn(buffer.localWrite+frameHeaderLength, payload)
	buffer.localWrite += frameLength
	buffer.writeIndex.Store(buffer.localWrite)
	return true, nil
}

// TryRead removes the next frame and returns a private copy of its
// payload. It returns (nil, false, nil) when the ring is empty. An
// error wraps ErrProtocolViolation and means the producer has
// corrupted the ring; no further reads are meaningful.
func (buffer *StreamBuffer) TryRead() ([]byte, bool, error) {
	write := buffer.writeIndex.Load()
	available := write - buffer.localRead
	if available == 0 {
		return nil, false, nil
	}
	if available > uint64(len(buffer.data)) {
		return nil, false, fmt.Errorf("%w: write index %d is %d bytes ahead of read index %d in a %d byte ring",
			ErrProtocolViolation, write, available, buffer.localRead, len(buffer.data))
	}
	if available < frameHeaderLength {
		return nil, false, fmt.Errorf("%w: %d bytes available, shorter than a frame header", ErrProtocolViolation, available)
	}

	var header [frameHeaderLength]byte
	buffer.copyOut(buffer.localRead, header[:])
	length := uint64(binary.BigEndian.Uint32(header[:]))
	if length > MaxPayloadLength || frameHeaderLength+length > available {
		return nil, false, fmt.Errorf("%w: frame declares %d bytes with %d available", ErrProtocolViolation, length, available-frameHeaderLength)
	}

	payload := make([]byte, length)
	buffer.copyOut(buffer.localRead+frameHeaderLength, payload)
	buffer.localRead += frameHeaderLength + length
	buffer.readIndex.Store(buffer.localRead)
	return payload, true, nil
}

func (buffer *StreamBuffer) copyIn(position uint64, source []byte) {
	offset := position & buffer.mask
	copied := copy(buffer.data[offset:], source)
	if copied < len(source) {
		copy(buffer.data, source[copied:])
	}
}

func (buffer *StreamBuffer) copyOut(position uint64, destination []byte) {
	offset := position & buffer.mask
	copied := copy(destination, buffer.data[offset:])
	if copied < len(destination) {
		copy(destination[copied:], buffer.data)
	}
}

// Close unmaps a shared buffer and closes its memfd. Neither side may
// use the buffer afterwards. Close is idempotent.
func (buffer *StreamBuffer) Close() error {
	buffer.closeOnce.Do(func() {
		if buffer.release != nil {
			buffer.closeErr = buffer.release()
		}
		if buffer.file != nil {
			if err := buffer.file.Close(); err != nil && buffer.closeErr == nil {
				buffer.closeErr = err
			}
		}
	})
	return buffer.closeErr
}
