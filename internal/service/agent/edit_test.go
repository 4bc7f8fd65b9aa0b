package agent

import (
	"errors"
	"testing"
)

func TestApplyEdit(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		got, err := applyEdit("body { color: red; }", "red", "blue")
		if err != nil {
			t.Fatalf("applyEdit: %v", err)
		}
		if got != "body { color: blue; }" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("trimmed match", func(t *testing.T) {
		got, err := applyEdit("<h1>Hello</h1>", "  <h1>Hello</h1>  ", "<h1>Hi</h1>")
		if err != nil {
			t.Fatalf("applyEdit: %v", err)
		}
		if got != "<h1>Hi</h1>" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("newline-normalized match", func(t *testing.T) {
		got, err := applyEdit("line one\nline two\n", "line one\r\nline two\r\n", "replaced\n")
		if err != nil {
			t.Fatalf("applyEdit: %v", err)
		}
		if got != "replaced\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("crlf content", func(t *testing.T) {
		got, err := applyEdit("line one\r\nline two\r\n", "line one\nline two\n", "replaced\n")
		if err != nil {
			t.Fatalf("applyEdit: %v", err)
		}
		if got != "replaced\n" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		_, err := applyEdit("<div></div><div></div>", "<div>", "<span>")
		if !errors.Is(err, errAmbiguousMatch) {
			t.Fatalf("expected ambiguous match, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := applyEdit("body {}", "header {}", "footer {}")
		if !errors.Is(err, errNoMatch) {
			t.Fatalf("expected no match, got %v", err)
		}
	})

	t.Run("empty old string", func(t *testing.T) {
		_, err := applyEdit("content", "", "x")
		if !errors.Is(err, errNoMatch) {
			t.Fatalf("expected no match, got %v", err)
		}
	})

	t.Run("replaces only one occurrence", func(t *testing.T) {
		got, err := applyEdit("a b a", "b", "c")
		if err != nil {
			t.Fatalf("applyEdit: %v", err)
		}
		if got != "a c a" {
			t.Errorf("got %q", got)
		}
	})
}
