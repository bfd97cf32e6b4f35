package runner

import (
	"reflect"
	"testing"
)

func TestLineBuffer_KeepsOrderWithinCapacity(t *testing.T) {
	b := NewLineBuffer(4)
	b.Append(`{"kind":"start"}`)
	b.Append(`{"kind":"output","content":"x"}`)

	want := []string{`{"kind":"start"}`, `{"kind":"output","content":"x"}`}
	if got := b.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}
	if got := b.String(); got != want[0]+"\n"+want[1] {
		t.Errorf("String() = %q", got)
	}
}

func TestLineBuffer_OverflowDropsOldestWholeLine(t *testing.T) {
	b := NewLineBuffer(3)
	for _, line := range []string{"r1", "r2", "r3", "r4", "r5"} {
		b.Append(line)
	}
	want := []string{"r3", "r4", "r5"}
	if got := b.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}
}

func TestLineBuffer_WrapsWithoutMixingRecords(t *testing.T) {
	b := NewLineBuffer(2)
	b.Append(`{"kind":"start"}`)
	b.Append(`{"kind":"response"}`)
	b.Append(`{"kind":"session_info"}`)

	for _, line := range b.Lines() {
		if line != `{"kind":"response"}` && line != `{"kind":"session_info"}` {
			t.Errorf("unexpected line %q after wrap", line)
		}
	}
	if got := b.String(); got != "{\"kind\":\"response\"}\n{\"kind\":\"session_info\"}" {
		t.Errorf("String() = %q", got)
	}
}

func TestLineBuffer_Reset(t *testing.T) {
	b := NewLineBuffer(2)
	b.Append("r1")
	b.Append("r2")
	b.Reset()
	if got := b.Lines(); len(got) != 0 {
		t.Errorf("Lines() after Reset = %v, want empty", got)
	}
	b.Append("r3")
	if got := b.String(); got != "r3" {
		t.Errorf("String() after Reset+Append = %q, want %q", got, "r3")
	}
}

func TestLineBuffer_LinesReturnsCopy(t *testing.T) {
	b := NewLineBuffer(2)
	b.Append("r1")
	out := b.Lines()
	out[0] = "mutated"
	if got := b.Lines()[0]; got != "r1" {
		t.Errorf("mutating Lines() output changed buffer: %q", got)
	}
}

func TestLineBuffer_MinimumCapacity(t *testing.T) {
	b := NewLineBuffer(0)
	b.Append("only")
	b.Append("latest")
	if got := b.String(); got != "latest" {
		t.Errorf("String() = %q, want %q", got, "latest")
	}
}
