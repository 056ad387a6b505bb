package generate

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseResponse(t *testing.T) {
	text := `Here are the sections.
##C001##
Sam enjoys lining up cars.

He notices small changes in routine.
##END##
##C002##
Sam responds to his name.
##END##
##X999##
unrequested
##END##
##BATCHCOMPLETE##
##TASKCOMPLETE##`

	resp, err := ParseResponse(text, []string{"C001", "C002"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := &Response{
		Entries: []Entry{
			{ID: "C001", Text: "Sam enjoys lining up cars.\n\nHe notices small changes in routine."},
			{ID: "C002", Text: "Sam responds to his name."},
		},
		Extra:        []string{"X999"},
		TaskComplete: true,
	}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestParseResponse_EntriesFollowRequestOrder(t *testing.T) {
	text := "##B##two##END####A##one##END##" + BatchCompleteMarker
	resp, err := ParseResponse(text, []string{"A", "B"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Entries[0].ID != "A" || resp.Entries[1].Text != "two" {
		t.Errorf("unexpected entries %+v", resp.Entries)
	}
	if resp.TaskComplete {
		t.Error("task complete was not in the response")
	}
}

func TestParseResponse_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		missing   []string
		duplicate []string
		reason    string
	}{
		{
			name:    "missing id",
			text:    "##C001##a##END##\n##BATCHCOMPLETE##",
			missing: []string{"C002"},
		},
		{
			name:      "duplicate id",
			text:      "##C001##a##END####C001##b##END####C002##c##END####BATCHCOMPLETE##",
			duplicate: []string{"C001"},
		},
		{
			name:   "unterminated",
			text:   "##C001##a\n##C002##b##END####BATCHCOMPLETE##",
			reason: "##C001## has no ##END##",
		},
		{
			name:   "stray end",
			text:   "##END####C001##a##END####C002##b##END####BATCHCOMPLETE##",
			reason: "##END## without an opening marker",
		},
		{
			name:   "empty content",
			text:   "##C001##  \n ##END####C002##b##END####BATCHCOMPLETE##",
			reason: "empty content for C001",
		},
		{
			name:   "no batch complete",
			text:   "##C001##a##END####C002##b##END##",
			reason: "missing ##BATCHCOMPLETE##",
		},
		{
			name:    "truncated response",
			text:    "##C001##a##END####C002##half a sent",
			missing: []string{"C002"},
			reason:  "##C002## has no ##END##",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse(tt.text, []string{"C001", "C002"})
			var be *BatchError
			if !errors.As(err, &be) {
				t.Fatalf("expected *BatchError, got %v", err)
			}
			if diff := cmp.Diff(tt.missing, be.Missing); diff != "" {
				t.Errorf("missing (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.duplicate, be.Duplicate); diff != "" {
				t.Errorf("duplicate (-want +got):\n%s", diff)
			}
			if tt.reason != "" && !strings.Contains(be.Error(), tt.reason) {
				t.Errorf("expected %q in %q", tt.reason, be.Error())
			}
		})
	}
}
