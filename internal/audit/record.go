package audit

import (
	"strings"
	"time"
)

// Status is the outcome written into an audit record.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
)

// TimestampLayout renders record timestamps with millisecond precision, e.g.
// "2026-03-14 09:26:53,589".
const TimestampLayout = "2006-01-02 15:04:05,000"

// NoLogsPlaceholder is what the viewer returns when nothing has been recorded.
const NoLogsPlaceholder = "No logs yet."

// Record is a single audit trail entry.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
}

// Line renders r in the flat text format of the audit file:
//
//	<timestamp> - User: <actor> | Action: <action> | Status: <status>[ | Info: <detail>]
//
// Line breaks inside fields are flattened so each record stays on one line.
func (r *Record) Line() string {
	var b strings.Builder
	b.WriteString(r.Timestamp.Format(TimestampLayout))
	b.WriteString(" - User: ")
	b.WriteString(oneLine(r.Actor))
	b.WriteString(" | Action: ")
	b.WriteString(oneLine(r.Action))
	b.WriteString(" | Status: ")
	b.WriteString(string(r.Status))
	if r.Detail != "" {
		b.WriteString(" | Info: ")
		b.WriteString(oneLine(r.Detail))
	}
	return b.String()
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func oneLine(s string) string {
	return lineBreaks.Replace(s)
}
