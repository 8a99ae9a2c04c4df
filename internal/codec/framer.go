package codec

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxRecord bounds a single newline-delimited record.
const DefaultMaxRecord = 4096

// ErrRecordTooLong reports a record that exceeded the framer limit. The
// oversized record has been discarded up to and including its newline.
var ErrRecordTooLong = errors.New("codec: record too long")

// Framer splits a byte stream into newline-delimited records. Partial records
// stay buffered until their newline arrives; several records delivered by one
// read are returned one per call.
type Framer struct {
	r   *bufio.Reader
	max int
}

// NewFramer wraps r. maxRecord excludes the delimiter, which may be "\r\n";
// values below 1 use DefaultMaxRecord.
func NewFramer(r io.Reader, maxRecord int) *Framer {
	if maxRecord <= 0 {
		maxRecord = DefaultMaxRecord
	}
	return &Framer{r: bufio.NewReaderSize(r, maxRecord+2), max: maxRecord}
}

// Next returns the next complete record without its trailing "\n" or "\r\n".
// The returned slice is owned by the caller. A trailing partial record at EOF
// is discarded and io.EOF returned.
func (f *Framer) Next() ([]byte, error) {
	line, err := f.r.ReadSlice('\n')
	switch {
	case err == nil:
		line = bytes.TrimSuffix(line[:len(line)-1], []byte{'\r'})
		if len(line) > f.max {
			// bufio enforces a 16 byte minimum buffer, so small limits are
			// checked here.
			return nil, fmt.Errorf("%w (limit %d bytes)", ErrRecordTooLong, f.max)
		}
		return bytes.Clone(line), nil
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, f.discard()
	default:
		return nil, err
	}
}

// discard drops bytes up to the next newline after an oversized record.
func (f *Framer) discard() error {
	for {
		_, err := f.r.ReadSlice('\n')
		switch {
		case err == nil:
			return fmt.Errorf("%w (limit %d bytes)", ErrRecordTooLong, f.max)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return err
		}
	}
}
