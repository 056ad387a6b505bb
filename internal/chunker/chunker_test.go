package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("C%03d", i+1)
	}
	return out
}

func TestPartition_FourteenBySize5(t *testing.T) {
	batches := Partition(ids(14), 5)

	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = len(b)
	}
	if diff := cmp.Diff([]int{5, 5, 4}, sizes); diff != "" {
		t.Errorf("batch sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestPartition_ExactAndOrdered(t *testing.T) {
	for n := 0; n <= 23; n++ {
		for size := 1; size <= 10; size++ {
			in := ids(n)
			batches := Partition(in, size)

			var flat []string
			for i, b := range batches {
				if len(b) == 0 {
					t.Fatalf("n=%d size=%d: empty batch %d", n, size, i)
				}
				if len(b) > size {
					t.Fatalf("n=%d size=%d: batch %d has %d items", n, size, i, len(b))
				}
				if i < len(batches)-1 && len(b) != size {
					t.Fatalf("n=%d size=%d: only the last batch may be short", n, size)
				}
				flat = append(flat, b...)
			}
			if n == 0 {
				if batches != nil {
					t.Fatalf("expected nil batches for empty input")
				}
				continue
			}
			if diff := cmp.Diff(in, flat); diff != "" {
				t.Fatalf("n=%d size=%d: concatenation differs (-want +got):\n%s", n, size, diff)
			}
		}
	}
}

func TestPartition_DoesNotAlias(t *testing.T) {
	in := ids(6)
	batches := Partition(in, 4)
	batches[0][0] = "CHANGED"
	if in[0] != "C001" {
		t.Error("expected partition to copy input")
	}
}

func TestPartition_NonPositiveSize(t *testing.T) {
	batches := Partition(ids(3), 0)
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Errorf("expected a single batch of 3, got %v", batches)
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Error("expected 0 tokens for empty text")
	}
	if EstimateTokens("x") != 1 {
		t.Error("expected at least 1 token for non-empty text")
	}
	if got := EstimateTokens(strings.Repeat("word ", 300)); got != 399 {
		t.Errorf("expected 399 tokens, got %d", got)
	}
}

func TestFit_AllSectionsFit(t *testing.T) {
	in := []Section{
		{Title: "Referral", Text: "Short referral letter."},
		{Title: "Prior report", Text: "Brief prior findings."},
	}
	out, cut := Fit(in, 1000)
	if cut {
		t.Error("expected nothing cut")
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestFit_TruncatesAtParagraph(t *testing.T) {
	para := strings.TrimSpace(strings.Repeat("word ", 30))
	text := para + "\n\n" + para + "\n\n" + para
	in := []Section{
		{Title: "Referral", Text: text},
		{Title: "Dropped", Text: "never included"},
	}

	// Title costs 1 token, each paragraph 39.
	out, cut := Fit(in, 80)
	if !cut {
		t.Fatal("expected a cut")
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 section, got %d", len(out))
	}
	if got := strings.Count(out[0].Text, "\n\n"); got != 1 {
		t.Errorf("expected 2 whole paragraphs, got text %q", out[0].Text)
	}
}

func TestFit_TruncatesAtSentence(t *testing.T) {
	text := "One two three. Four five six. Seven eight nine ten eleven twelve thirteen."
	out, cut := Fit([]Section{{Text: text}}, 8)
	if !cut {
		t.Fatal("expected a cut")
	}
	if len(out) != 1 || out[0].Text != "One two three. Four five six." {
		t.Errorf("unexpected truncation %+v", out)
	}
}

func TestFit_ZeroBudget(t *testing.T) {
	out, cut := Fit([]Section{{Text: "something"}}, 0)
	if out != nil || !cut {
		t.Errorf("expected nothing kept and cut=true, got %v %v", out, cut)
	}
}
