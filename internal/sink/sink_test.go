package sink

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cespare/xxhash/v2"

	"github.com/pspoerri/geoextract/internal/failure"
	"github.com/pspoerri/geoextract/internal/metrics"
)

type closeCounter struct {
	bytes.Buffer
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

func TestBounded_ExactLimitSucceeds(t *testing.T) {
	var buf closeCounter
	aborts := 0
	s := New(&buf, 10, func(written, limit uint64) error {
		aborts++
		return failure.Limitf("%d > %d", written, limit)
	})

	if _, err := s.Write(make([]byte, 4)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(make([]byte, 6)); err != nil {
		t.Fatalf("writing exactly the limit failed: %v", err)
	}
	if s.Closed() {
		t.Fatal("sink closed at exactly the limit")
	}

	n, err := s.Write([]byte{1})
	if n != 1 {
		t.Errorf("n = %d, bytes should be forwarded before the check", n)
	}
	if !errors.Is(err, failure.ErrLimitExceeded) {
		t.Fatalf("err = %v, want limit exceeded", err)
	}
	if _, err := s.Write([]byte{2}); err == nil {
		t.Error("write after abort succeeded")
	}
	if aborts != 1 {
		t.Errorf("abort fired %d times, want 1", aborts)
	}
	if !s.Closed() || !s.Aborted() {
		t.Error("sink should report closed and aborted")
	}
	if buf.Len() != 11 {
		t.Errorf("underlying received %d bytes, want 11", buf.Len())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if buf.closes != 1 {
		t.Errorf("underlying closed %d times, want 1", buf.closes)
	}
}

func TestBounded_ZeroIsUnlimited(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, 0, nil)
	for i := 0; i < 100; i++ {
		if _, err := s.Write(make([]byte, 1024)); err != nil {
			t.Fatal(err)
		}
	}
	if s.Written() != 100*1024 || s.Aborted() {
		t.Errorf("written=%d aborted=%v", s.Written(), s.Aborted())
	}
}

func TestBounded_CloseIdempotent(t *testing.T) {
	var buf closeCounter
	s := New(&buf, 5, nil)
	for i := 0; i < 3; i++ {
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if buf.closes != 1 {
		t.Errorf("closes = %d, want 1", buf.closes)
	}
	if _, err := s.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

// A 1500 byte payload against a 1000 byte budget aborts somewhere between
// 1000 and 1499 bytes depending on the write size.
func TestBounded_WriteGranularity(t *testing.T) {
	payload := bytes.Repeat([]byte("g"), 1500)
	for _, chunk := range []int{1, 64, 333, 499} {
		var buf bytes.Buffer
		s := New(&buf, 1000, nil)
		var err error
		for off := 0; off < len(payload) && err == nil; off += chunk {
			end := min(off+chunk, len(payload))
			_, err = s.Write(payload[off:end])
		}
		if !errors.Is(err, failure.ErrLimitExceeded) {
			t.Fatalf("chunk %d: err = %v", chunk, err)
		}
		if w := s.Written(); w <= 1000 || w >= 1500 {
			t.Errorf("chunk %d: aborted after %d bytes", chunk, w)
		}
	}
}

func TestBounded_ChecksumAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	rec := metrics.New(false)
	s := New(&buf, 0, nil)
	s.Metrics = rec
	s.Mime = "image/png"
	data := []byte("hello raster")
	s.Write(data[:5])
	s.Write(data[5:])
	if s.Checksum() != xxhash.Sum64(data) {
		t.Error("checksum mismatch")
	}
}
