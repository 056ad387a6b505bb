package generate

import (
	"fmt"
	"regexp"
	"strings"
)

// Entry is the generated text for one placeholder.
type Entry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Response is a batch response that passed the shape checks.
type Response struct {
	Entries      []Entry  // in requested order
	Extra        []string // IDs that were not requested; their text is dropped
	TaskComplete bool
}

// BatchError describes why a batch response was rejected.
type BatchError struct {
	Missing   []string
	Duplicate []string
	Reasons   []string
}

func (e *BatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing ids: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Duplicate) > 0 {
		parts = append(parts, "duplicate ids: "+strings.Join(e.Duplicate, ", "))
	}
	parts = append(parts, e.Reasons...)
	return "invalid batch response: " + strings.Join(parts, "; ")
}

var markerPattern = regexp.MustCompile(`##([A-Z][A-Z0-9_]*)##`)

// ParseResponse extracts the content for ids from a delimited response. Every
// id must appear exactly once with non-empty content and the response must
// carry the batch-complete marker; otherwise a *BatchError is returned.
func ParseResponse(text string, ids []string) (*Response, error) {
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}

	var (
		resp      = &Response{}
		bad       = &BatchError{}
		got       = make(map[string]string, len(ids))
		dupSeen   = make(map[string]bool)
		open      string
		openEnd   int
		batchDone bool
	)
	for _, m := range markerPattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		switch name {
		case "END":
			if open == "" {
				bad.Reasons = append(bad.Reasons, "##END## without an opening marker")
				continue
			}
			content := strings.TrimSpace(text[openEnd:m[0]])
			switch {
			case !requested[open]:
				resp.Extra = append(resp.Extra, open)
			case content == "":
				bad.Reasons = append(bad.Reasons, fmt.Sprintf("empty content for %s", open))
				got[open] = ""
			default:
				if _, seen := got[open]; seen {
					if !dupSeen[open] {
						bad.Duplicate = append(bad.Duplicate, open)
						dupSeen[open] = true
					}
				} else {
					got[open] = content
				}
			}
			open = ""
		case "BATCHCOMPLETE", "TASKCOMPLETE":
			if open != "" {
				bad.Reasons = append(bad.Reasons, fmt.Sprintf("##%s## has no ##END##", open))
				open = ""
			}
			if name == "BATCHCOMPLETE" {
				batchDone = true
			} else {
				resp.TaskComplete = true
			}
		default:
			if open != "" {
				bad.Reasons = append(bad.Reasons, fmt.Sprintf("##%s## has no ##END##", open))
			}
			open = name
			openEnd = m[1]
		}
	}
	if open != "" {
		bad.Reasons = append(bad.Reasons, fmt.Sprintf("##%s## has no ##END##", open))
	}
	if !batchDone {
		bad.Reasons = append(bad.Reasons, "missing "+BatchCompleteMarker)
	}

	for _, id := range ids {
		content, ok := got[id]
		if !ok {
			bad.Missing = append(bad.Missing, id)
			continue
		}
		resp.Entries = append(resp.Entries, Entry{ID: id, Text: content})
	}
	if len(bad.Missing) > 0 || len(bad.Duplicate) > 0 || len(bad.Reasons) > 0 {
		return nil, bad
	}
	return resp, nil
}
