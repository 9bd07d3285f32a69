package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrFrameTooLarge is returned when a record exceeds the reader's limit.
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes body as a single-fragment record.
//
// Record format:
//   - Bit 31 of the 4-byte big-endian marker: last fragment (always set)
//   - Bits 0-30: fragment length in bytes
//   - The fragment itself
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > fragmentLengthMask {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	// One write per record keeps concurrent writers from interleaving
	// once the caller serializes WriteFrame calls.
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, lastFragment|uint32(len(body)))
	copy(frame[4:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one record, reassembling fragments, and returns its
// body. Records larger than maxSize fail with ErrFrameTooLarge before
// their payload is read. io.EOF is returned unwrapped when the stream
// ends cleanly between records.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxFrameSize
	}

	var body []byte
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF && body == nil {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read fragment header: %w", err)
		}

		marker := binary.BigEndian.Uint32(hdr[:])
		length := marker & fragmentLengthMask
		if uint64(len(body))+uint64(length) > uint64(maxSize) {
			return nil, fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrFrameTooLarge, uint64(len(body))+uint64(length), maxSize)
		}

		start := len(body)
		body = append(body, make([]byte, length)...)
		if _, err := io.ReadFull(r, body[start:]); err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}

		if marker&lastFragment != 0 {
			if body == nil {
				body = []byte{}
			}
			return body, nil
		}
	}
}
