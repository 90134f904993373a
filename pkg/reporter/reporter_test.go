package reporter

import (
	"bytes"
	"testing"
	"time"
)

func TestEmit(t *testing.T) {
	var buf bytes.Buffer
	Emit(&buf, Totals{Speed: 3, Bytes: 120, Failed: 1}, 0)

	want := "Bench is done. speed=3, bytes=120, failed=1.\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestEmitWithElapsed(t *testing.T) {
	var buf bytes.Buffer
	Emit(&buf, Totals{Speed: 1, Bytes: 2, Failed: 0}, 5*time.Second)

	want := "Bench is done. speed=1, bytes=2, failed=0. elapsed=5s\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
