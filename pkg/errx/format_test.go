package errx

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFormat_UserString(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "message", err: New(CodeValidation, DescValidation, "Empty command"), want: "Empty command"},
		{name: "description", err: New(CodeValidation, DescValidation, ""), want: DescValidation},
		{name: "code", err: New(CodeValidation, "", ""), want: CodeValidation},
		{name: "wrapped by fmt", err: fmt.Errorf("rebase: %w", New(CodeExecution, DescExecution, "spawn failed")), want: "spawn failed"},
		{name: "plain", err: errors.New("standard error"), want: "standard error"},
		{name: "nil", err: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserString(tt.err); got != tt.want {
				t.Errorf("UserString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormat_IsError(t *testing.T) {
	if !IsError(New(CodeValidation, DescValidation, "x")) {
		t.Error("IsError(*Error) = false")
	}
	if IsError(errors.New("x")) {
		t.Error("IsError(plain) = true")
	}
	if IsError(nil) {
		t.Error("IsError(nil) = true")
	}
}

func TestFormat_CodeOf(t *testing.T) {
	wrapped := fmt.Errorf("rebase: %w", New(CodeExecution, DescExecution, "failed"))
	if got := CodeOf(wrapped); got != CodeExecution {
		t.Errorf("CodeOf(wrapped) = %q, want %q", got, CodeExecution)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
}

func TestFormat_DebugString(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		got := DebugString(New(CodeValidation, DescValidation, "test"))
		want := `1: *errx.Error: test | code=70000 | description="Command/image validation error" | message="test"`
		if got != want {
			t.Errorf("DebugString() = %q, want %q", got, want)
		}
	})
	t.Run("without description", func(t *testing.T) {
		got := DebugString(New(CodeValidation, "", "test"))
		want := `1: *errx.Error: test | code=70000 | message="test"`
		if got != want {
			t.Errorf("DebugString() = %q, want %q", got, want)
		}
	})
	t.Run("context is sorted", func(t *testing.T) {
		err := New(CodeRegistry, DescRegistry, "x").WithContextMap(map[string]any{"image": "bluefin", "branch": "stable"})
		if got := DebugString(err); !strings.Contains(got, "context={branch=stable, image=bluefin}") {
			t.Errorf("DebugString() = %q", got)
		}
	})
	t.Run("cause chain", func(t *testing.T) {
		err := Wrap(CodeExecution, DescExecution, "wrapped error", errors.New("underlying cause"))
		lines := strings.Split(DebugString(err), "\n")
		if len(lines) != 2 {
			t.Fatalf("DebugString() lines = %d, want 2: %q", len(lines), lines)
		}
		if !strings.HasPrefix(lines[0], "1: *errx.Error: wrapped error") || lines[1] != "2: *errors.errorString: underlying cause" {
			t.Errorf("DebugString() = %q", lines)
		}
	})
	t.Run("joined errors", func(t *testing.T) {
		got := DebugString(errors.Join(errors.New("error1"), errors.New("error2")))
		if !strings.Contains(got, "2: *errors.errorString: error1") || !strings.Contains(got, "3: *errors.errorString: error2") {
			t.Errorf("DebugString() = %q", got)
		}
	})
	t.Run("nil", func(t *testing.T) {
		if got := DebugString(nil); got != "" {
			t.Errorf("DebugString(nil) = %q", got)
		}
	})
}

func TestFormat_flattenChainBounded(t *testing.T) {
	var err error = errors.New("root")
	for i := 0; i < maxChain*2; i++ {
		err = Wrap(CodeExecution, DescExecution, fmt.Sprintf("layer %d", i), err)
	}
	if got := len(flattenChain(err)); got != maxChain {
		t.Errorf("flattenChain() length = %d, want %d", got, maxChain)
	}
	if got := flattenChain(nil); len(got) != 0 {
		t.Errorf("flattenChain(nil) = %v", got)
	}
}

func TestFormat_unwrapAll(t *testing.T) {
	cause := errors.New("cause")
	if got := unwrapAll(Wrap(CodeExecution, DescExecution, "x", cause)); len(got) != 1 || got[0] != cause {
		t.Errorf("unwrapAll(wrapped) = %v", got)
	}
	if got := unwrapAll(New(CodeExecution, DescExecution, "x")); got != nil {
		t.Errorf("unwrapAll(no cause) = %v, want nil", got)
	}
	if got := unwrapAll(errors.Join(errors.New("a"), errors.New("b"), errors.New("c"))); len(got) != 3 {
		t.Errorf("unwrapAll(joined) = %v", got)
	}
	if got := unwrapAll(nil); got != nil {
		t.Errorf("unwrapAll(nil) = %v", got)
	}
}

func TestFormat_formatContext(t *testing.T) {
	if got := formatContext(map[string]any{"key2": "value2", "key1": "value1"}); got != "key1=value1, key2=value2" {
		t.Errorf("formatContext() = %q", got)
	}
	if got := formatContext(nil); got != "" {
		t.Errorf("formatContext(nil) = %q", got)
	}
}
