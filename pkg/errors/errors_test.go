package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrapRoundTrip(t *testing.T) {
	base := stderrors.New("slot duration must be positive")
	err := Configuration("invalid_slot_duration", base)
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if CategoryOf(err) != CategoryConfiguration {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "invalid_slot_duration" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) == "" {
		t.Fatal("expected a hint for configuration errors")
	}
	if !stderrors.Is(err, base) {
		t.Fatal("expected wrapped error to unwrap to base")
	}
	if err.Error() != base.Error() {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestWrapNilCause(t *testing.T) {
	if Wrap(nil, CategoryIOFailure, "x", "") != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestIsTransientThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("frame 42: %w", Transient("rate_limited", stderrors.New("429")))
	if !IsTransient(err) {
		t.Fatal("expected transient classification through fmt wrapping")
	}
	if IsTransient(Fatal("unauthorized", stderrors.New("401"))) {
		t.Fatal("fatal error classified as transient")
	}
	if CategoryOf(stderrors.New("plain")) != "" {
		t.Fatal("expected empty category for unclassified error")
	}
}
