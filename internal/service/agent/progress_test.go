package agent

import (
	"reflect"
	"testing"
)

func TestLineBuffer(t *testing.T) {
	t.Run("holds partial lines", func(t *testing.T) {
		var buf lineBuffer
		if lines := buf.Write("working on"); lines != nil {
			t.Errorf("partial delta released %v", lines)
		}
		lines := buf.Write(" the styles\n")
		if !reflect.DeepEqual(lines, []string{"working on the styles"}) {
			t.Errorf("got %v", lines)
		}
	})

	t.Run("releases multiple lines in order", func(t *testing.T) {
		var buf lineBuffer
		lines := buf.Write("one\ntwo\nthr")
		if !reflect.DeepEqual(lines, []string{"one", "two"}) {
			t.Errorf("got %v", lines)
		}
		if lines := buf.Flush(); !reflect.DeepEqual(lines, []string{"thr"}) {
			t.Errorf("flush got %v", lines)
		}
	})

	t.Run("marker lines jump the queue", func(t *testing.T) {
		var buf lineBuffer
		lines := buf.Write("some narration\nTOOL: edit_file\n")
		if !reflect.DeepEqual(lines, []string{"TOOL: edit_file", "some narration"}) {
			t.Errorf("got %v", lines)
		}
	})

	t.Run("step markers flush too", func(t *testing.T) {
		var buf lineBuffer
		lines := buf.Write("STEP: 2 of 3\n")
		if !reflect.DeepEqual(lines, []string{"STEP: 2 of 3"}) {
			t.Errorf("got %v", lines)
		}
	})

	t.Run("drops blank lines and carriage returns", func(t *testing.T) {
		var buf lineBuffer
		lines := buf.Write("first\r\n\r\nsecond\n")
		if !reflect.DeepEqual(lines, []string{"first", "second"}) {
			t.Errorf("got %v", lines)
		}
		if lines := buf.Flush(); lines != nil {
			t.Errorf("flush of empty buffer got %v", lines)
		}
	})
}
