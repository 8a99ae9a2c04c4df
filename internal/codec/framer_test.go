package codec_test

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/Tyrowin/gochat-relay/internal/codec"
)

func next(t *testing.T, f *codec.Framer) string {
	t.Helper()
	rec, err := f.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return string(rec)
}

// TestFramerSplitReads feeds the stream one byte per read; records must only
// surface once their newline has arrived.
func TestFramerSplitReads(t *testing.T) {
	f := codec.NewFramer(iotest.OneByteReader(strings.NewReader("hello\nworld\r\n")), 64)
	if got := next(t, f); got != "hello" {
		t.Errorf("got %q, want hello", got)
	}
	if got := next(t, f); got != "world" {
		t.Errorf("got %q, want world", got)
	}
	if _, err := f.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("got %v, want EOF", err)
	}
}

// TestFramerMergedReads delivers several records in one write.
func TestFramerMergedReads(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte("a\nbb\nccc\npart")) //nolint:errcheck
		client.Write([]byte("ial\n"))           //nolint:errcheck
	}()

	f := codec.NewFramer(server, 64)
	for _, want := range []string{"a", "bb", "ccc", "partial"} {
		if got := next(t, f); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

// TestFramerPartialAtEOF discards an unterminated trailing record.
func TestFramerPartialAtEOF(t *testing.T) {
	f := codec.NewFramer(strings.NewReader("done\nunterminated"), 64)
	next(t, f)
	if rec, err := f.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("got %q, %v; want EOF", rec, err)
	}
}

// TestFramerTooLong drops an oversized record and keeps reading after it.
func TestFramerTooLong(t *testing.T) {
	long := strings.Repeat("x", 100)
	f := codec.NewFramer(strings.NewReader(long+"\nok\n"+strings.Repeat("y", 20)+"\nfine\n"), 16)

	if _, err := f.Next(); !errors.Is(err, codec.ErrRecordTooLong) {
		t.Fatalf("got %v, want ErrRecordTooLong", err)
	}
	if got := next(t, f); got != "ok" {
		t.Errorf("got %q, want ok", got)
	}
	if _, err := f.Next(); !errors.Is(err, codec.ErrRecordTooLong) {
		t.Fatalf("got %v, want ErrRecordTooLong", err)
	}
	if got := next(t, f); got != "fine" {
		t.Errorf("got %q, want fine", got)
	}
}

// TestFramerLimitExcludesDelimiter accepts a record of exactly the limit
// whether it ends in "\n" or "\r\n", and rejects one byte more.
func TestFramerLimitExcludesDelimiter(t *testing.T) {
	exact := strings.Repeat("x", codec.DefaultMaxRecord)
	over := strings.Repeat("z", codec.DefaultMaxRecord+1)
	input := exact + "\r\n" + exact + "\n" + over + "\n" + "after\n"
	f := codec.NewFramer(strings.NewReader(input), codec.DefaultMaxRecord)

	if got := next(t, f); got != exact {
		t.Errorf("CRLF record: got %d bytes, want %d", len(got), len(exact))
	}
	if got := next(t, f); got != exact {
		t.Errorf("LF record: got %d bytes, want %d", len(got), len(exact))
	}
	if _, err := f.Next(); !errors.Is(err, codec.ErrRecordTooLong) {
		t.Fatalf("got %v, want ErrRecordTooLong", err)
	}
	if got := next(t, f); got != "after" {
		t.Errorf("got %q, want after", got)
	}
}

// TestFramerRecordsAreCopies guards against bufio reusing returned slices.
func TestFramerRecordsAreCopies(t *testing.T) {
	f := codec.NewFramer(strings.NewReader("first\nsecond\n"), 64)
	a, _ := f.Next()
	b, _ := f.Next()
	if string(a) != "first" || string(b) != "second" {
		t.Errorf("got %q, %q", a, b)
	}
}
