package lifecycle

import (
	"bufio"
	"slices"
	"strings"
	"testing"
)

func TestLineWriter(t *testing.T) {
	var got []string
	w := newLineWriter(func(line string) { got = append(got, line) })

	w.Write([]byte("Step 1/2 : FROM base\nStep 2"))
	w.Write([]byte("/2 : RUN make\r\n\n   \n"))
	w.Write([]byte("tail without newline"))
	w.Flush()

	want := []string{"Step 1/2 : FROM base", "Step 2/2 : RUN make", "tail without newline"}
	if !slices.Equal(got, want) {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestTagOf(t *testing.T) {
	tests := map[string]string{
		"my-spaces:gpt-demo":           "gpt-demo",
		"zuppif/my-spaces:whisper":     "whisper",
		"registry:5000/my-spaces:sdxl": "sdxl",
		"registry:5000/my-spaces":      "registry:5000/my-spaces",
	}
	for in, want := range tests {
		if got := tagOf(in); got != want {
			t.Errorf("tagOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitLogLines(t *testing.T) {
	long := strings.Repeat("y", maxLogChunk+10)
	input := "a\nb\r\nc\rd" + "\r" + long + "\n\ntail"

	sc := bufio.NewScanner(strings.NewReader(input))
	sc.Buffer(make([]byte, 16), maxLogChunk+1)
	sc.Split(splitLogLines)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	want := []string{"a", "b", "c", "d", long[:maxLogChunk], long[maxLogChunk:], "", "tail"}
	if !slices.Equal(got, want) {
		t.Errorf("got %d tokens, want %d", len(got), len(want))
		for i := 0; i < min(len(got), len(want)); i++ {
			if got[i] != want[i] {
				t.Errorf("token %d: len %d, want len %d", i, len(got[i]), len(want[i]))
			}
		}
	}
}
