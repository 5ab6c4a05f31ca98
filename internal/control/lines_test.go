package control_test

import (
	"bytes"
	"testing"

	"github.com/zsprackett/tmux-control/internal/control"
)

func collectLines(a *control.LineAssembler, chunk []byte) []string {
	var out []string
	a.Feed(chunk, func(line []byte) bool {
		out = append(out, string(line))
		return true
	})
	return out
}

func TestLineAssembler_SplitsAcrossChunks(t *testing.T) {
	var a control.LineAssembler

	if got := collectLines(&a, []byte("%sess")); len(got) != 0 {
		t.Fatalf("expected no lines, got %q", got)
	}
	if a.Pending() != 5 {
		t.Errorf("pending: got %d want 5", a.Pending())
	}
	got := collectLines(&a, []byte("ions-changed\n%window-add @1\n%exi"))
	want := []string{"%sessions-changed\n", "%window-add @1\n"}
	if len(got) != len(want) {
		t.Fatalf("got %q want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
	got = collectLines(&a, []byte("t\n"))
	if len(got) != 1 || got[0] != "%exit\n" {
		t.Errorf("got %q want [%%exit]", got)
	}
	if a.Pending() != 0 {
		t.Errorf("expected nothing pending, got %d", a.Pending())
	}
}

func TestLineAssembler_ByteAtATime(t *testing.T) {
	input := []byte("one\n\ntwo three\nfour\n")
	var a control.LineAssembler
	var got []string
	for i := range input {
		got = append(got, collectLines(&a, input[i:i+1])...)
	}
	want := []string{"one\n", "\n", "two three\n", "four\n"}
	if len(got) != len(want) {
		t.Fatalf("got %q want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestLineAssembler_StopKeepsRemainingLines(t *testing.T) {
	var a control.LineAssembler
	var first []string
	a.Feed([]byte("a\nb\nc"), func(line []byte) bool {
		first = append(first, string(line))
		return false
	})
	if len(first) != 1 || first[0] != "a\n" {
		t.Fatalf("got %q want [a]", first)
	}
	got := collectLines(&a, nil)
	if len(got) != 1 || got[0] != "b\n" {
		t.Fatalf("resume: got %q want [b]", got)
	}
	got = collectLines(&a, []byte("\n"))
	if len(got) != 1 || got[0] != "c\n" {
		t.Fatalf("got %q want [c]", got)
	}
}

func TestLineAssembler_NoDuplicationOrLoss(t *testing.T) {
	var input bytes.Buffer
	for i := 0; i < 200; i++ {
		input.WriteString("%output %1 some bytes here\n")
	}
	data := input.Bytes()
	var a control.LineAssembler
	var out bytes.Buffer
	for start := 0; start < len(data); start += 7 {
		end := min(start+7, len(data))
		a.Feed(data[start:end], func(line []byte) bool {
			out.Write(line)
			return true
		})
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Error("reassembled stream differs from input")
	}
}
