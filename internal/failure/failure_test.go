package failure

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindSentinels(t *testing.T) {
	tests := []struct {
		kind Kind
		want error
	}{
		{Validation, ErrValidation},
		{LimitExceeded, ErrLimitExceeded},
		{Processing, ErrProcessing},
		{Canceled, ErrCanceled},
	}
	for _, tt := range tests {
		err := fmt.Errorf("outer: %w", New(tt.kind, "read", io.ErrUnexpectedEOF))
		if !errors.Is(err, tt.want) {
			t.Errorf("%v: errors.Is(%v) = false", tt.kind, tt.want)
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("%v: cause lost", tt.kind)
		}
		if KindOf(err) != tt.kind {
			t.Errorf("KindOf = %v, want %v", KindOf(err), tt.kind)
		}
	}
}

func TestWrap_KeepsExistingKind(t *testing.T) {
	inner := Limitf("written %d bytes", 1200)
	err := Wrap(inner, Processing, "roads", "encode")
	if KindOf(err) != LimitExceeded {
		t.Fatalf("kind = %v, want limit-exceeded", KindOf(err))
	}
	var fe *Error
	if !errors.As(err, &fe) || fe.Layer != "roads" || fe.Stage != "encode" {
		t.Errorf("context not filled: %+v", fe)
	}
	if Wrap(nil, Processing, "x", "y") != nil {
		t.Error("Wrap(nil) != nil")
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: Validation, Layer: "dem", Stage: "roi", Err: errors.New("ring not closed")}
	want := "validation [dem] roi: ring not closed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !IsCanceled(New(Canceled, "read", nil)) {
		t.Error("IsCanceled = false")
	}
	if KindOf(io.EOF) != Processing {
		t.Error("unclassified errors should be processing")
	}
}
