package aff4zip

import (
	"encoding/binary"
	"fmt"

	"github.com/aff4/aff4/aff4error"
	"github.com/aff4/aff4/filelike"
)

// readExact reads exactly n bytes from fl, or returns ErrInvalidFormat if
// the stream runs out first (a truncated record, spec §7).
func readExact(fl filelike.FileLike, n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := fl.Read(buf[got:])
		if err != nil {
			return nil, fmt.Errorf("aff4zip: read: %w", err)
		}
		if m == 0 {
			return nil, fmt.Errorf("aff4zip: truncated record (wanted %d, got %d): %w", n, got, aff4error.ErrInvalidFormat)
		}
		got += m
	}
	return buf, nil
}

func readUint16At(buf []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(buf[off:])
}

func readUint32At(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off:])
}

func readUint64At(buf []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(buf[off:])
}

// writeAll writes the whole of buf to fl.
func writeAll(fl filelike.FileLike, buf []byte) error {
	off := 0
	for off < len(buf) {
		n, err := fl.Write(buf[off:])
		if err != nil {
			return fmt.Errorf("aff4zip: write: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("aff4zip: write: %w", aff4error.ErrIOError)
		}
		off += n
	}
	return nil
}
