// Package limits holds the resource budgets applied to every extraction.
//
// A Snapshot is immutable. The process keeps the current one in a Store and
// swaps it atomically when the limits file changes; requests take a copy at
// start and never observe a half-applied update.
package limits

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
)

// Keys accepted in a limits file.
const (
	KeyMaxFeatures        = "maxFeatures"
	KeyRasterSizeLimits   = "rasterSizeLimits"
	KeyWriteLimits        = "writeLimits"
	KeyHardOutputLimit    = "hardOutputLimit"
	KeyCompressionLevel   = "compressionLevel"
	KeyMaxAnimationFrames = "maxAnimationFrames"
)

// Snapshot is one consistent set of limits. Zero means unlimited on every
// field; for CompressionLevel zero selects the encoder default.
type Snapshot struct {
	MaxFeatures        uint64
	MaxRasterPixels    uint64
	MaxWriteBytes      uint64
	MaxOutputBytes     uint64
	CompressionLevel   int
	MaxAnimationFrames uint64
}

// Unlimited is the default snapshot.
var Unlimited = Snapshot{}

// FieldError reports a rejected value. The previous value of the field is kept.
type FieldError struct {
	Key   string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("limits: %s=%q rejected: %v", e.Key, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Parse reads key=value lines into a fresh snapshot. Blank lines and lines
// starting with '#' or '!' are ignored; unknown keys are ignored. A key that
// is absent from r falls back to unlimited. A value that is not a
// non-negative integer is rejected and the field keeps its value from prev,
// or from an earlier accepted line for the same key.
// The returned errors list every rejection; the snapshot is always usable.
func Parse(r io.Reader, prev Snapshot) (Snapshot, []error) {
	next := Unlimited
	accepted := map[string]bool{}
	var errs []error
	reject := func(key, val string, err error) {
		errs = append(errs, &FieldError{Key: key, Value: val, Err: err})
		if !accepted[key] {
			keep(&next, prev, key)
		}
	}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			key, val, ok = strings.Cut(line, ":")
		}
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)

		var dst *uint64
		switch key {
		case KeyMaxFeatures:
			dst = &next.MaxFeatures
		case KeyRasterSizeLimits:
			dst = &next.MaxRasterPixels
		case KeyWriteLimits:
			dst = &next.MaxWriteBytes
		case KeyHardOutputLimit:
			dst = &next.MaxOutputBytes
		case KeyMaxAnimationFrames:
			dst = &next.MaxAnimationFrames
		case KeyCompressionLevel:
			n, err := strconv.Atoi(val)
			if err == nil && (n < 0 || n > 9) {
				err = fmt.Errorf("out of range 0..9")
			}
			if err != nil {
				reject(key, val, err)
				continue
			}
			next.CompressionLevel = n
			accepted[key] = true
			continue
		default:
			continue
		}
		n, err := parseCount(val)
		if err != nil {
			reject(key, val, err)
			continue
		}
		*dst = n
		accepted[key] = true
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, fmt.Errorf("limits: read: %w", err))
	}
	return next, errs
}

// keep copies the field named by key from prev into next.
func keep(next *Snapshot, prev Snapshot, key string) {
	switch key {
	case KeyMaxFeatures:
		next.MaxFeatures = prev.MaxFeatures
	case KeyRasterSizeLimits:
		next.MaxRasterPixels = prev.MaxRasterPixels
	case KeyWriteLimits:
		next.MaxWriteBytes = prev.MaxWriteBytes
	case KeyHardOutputLimit:
		next.MaxOutputBytes = prev.MaxOutputBytes
	case KeyMaxAnimationFrames:
		next.MaxAnimationFrames = prev.MaxAnimationFrames
	case KeyCompressionLevel:
		next.CompressionLevel = prev.CompressionLevel
	}
}

func parseCount(s string) (uint64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value")
	}
	return uint64(n), nil
}

// Store publishes the current snapshot to concurrent readers.
type Store struct {
	p atomic.Pointer[Snapshot]
}

// NewStore creates a store holding initial.
func NewStore(initial Snapshot) *Store {
	s := &Store{}
	s.Set(initial)
	return s
}

// Load returns a copy of the current snapshot.
func (s *Store) Load() Snapshot {
	if p := s.p.Load(); p != nil {
		return *p
	}
	return Unlimited
}

// Set replaces the current snapshot.
func (s *Store) Set(v Snapshot) {
	s.p.Store(&v)
}
