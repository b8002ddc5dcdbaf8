package queue

import (
	"fmt"
	"strings"
)

// Progress is a derived, read-only view of plan completion.
type Progress struct {
	Total      int     `json:"total"`
	Pending    int     `json:"pending"`
	Ready      int     `json:"ready"`
	InProgress int     `json:"in_progress"`
	Completed  int     `json:"completed"`
	Failed     int     `json:"failed"`
	Blocked    int     `json:"blocked"`
	Cancelled  int     `json:"cancelled"`
	Percentage float64 `json:"percentage"`
}

// Progress computes completion counts for the current plan. Safe to
// call at any time; never mutates.
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()

	var p Progress
	if e.plan == nil {
		return p
	}

	p.Total = len(e.plan.Tasks)
	for _, t := range e.plan.Tasks {
		switch t.Status {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusReady:
			p.Ready++
		case TaskStatusInProgress:
			p.InProgress++
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusBlocked:
			p.Blocked++
		case TaskStatusCancelled:
			p.Cancelled++
		}
	}
	if p.Total > 0 {
		p.Percentage = float64(p.Completed) / float64(p.Total) * 100
	}
	return p
}

// Summary renders a one-line human-readable progress report.
func (p Progress) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d tasks completed (%.0f%%)", p.Completed, p.Total, p.Percentage)

	var extra []string
	if p.InProgress > 0 {
		extra = append(extra, fmt.Sprintf("%d in progress", p.InProgress))
	}
	if p.Ready > 0 {
		extra = append(extra, fmt.Sprintf("%d ready", p.Ready))
	}
	if p.Failed > 0 {
		extra = append(extra, fmt.Sprintf("%d failed", p.Failed))
	}
	if p.Blocked > 0 {
		extra = append(extra, fmt.Sprintf("%d blocked", p.Blocked))
	}
	if len(extra) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(extra, ", "))
	}
	return b.String()
}
