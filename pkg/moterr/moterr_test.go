package moterr

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CodeQueueFull, "move queue full")
	if !strings.Contains(err.Error(), "QUEUE_FULL") {
		t.Errorf("Error() = %q, want code included", err.Error())
	}

	axErr := NewAxis(CodeOutOfBounds, 2, "target 300 outside range")
	if !strings.Contains(axErr.Error(), "axis 2") {
		t.Errorf("Error() = %q, want axis included", axErr.Error())
	}
}

func TestIs(t *testing.T) {
	err := QueueFull("move")
	if !Is(err, CodeQueueFull) {
		t.Error("Is should match the code")
	}
	if Is(err, CodeZeroMove) {
		t.Error("Is should not match a different code")
	}
	if Is(errors.New("plain"), CodeQueueFull) {
		t.Error("Is should reject foreign error types")
	}
}

func TestWrapUnwrap(t *testing.T) {
	inner := errors.New("disk gone")
	err := Wrap(inner, CodeConfig, "load config")
	if !errors.Is(err, inner) {
		t.Error("wrapped error should unwrap to the cause")
	}
}

func TestHelpers(t *testing.T) {
	if err := OutOfBounds(0, 300, 0, 200); !Is(err, CodeOutOfBounds) {
		t.Errorf("OutOfBounds code = %v", err)
	}
	if err := ProbeNoTrigger(); !Is(err, CodeProbeNoTrigger) {
		t.Errorf("ProbeNoTrigger code = %v", err)
	}
}
