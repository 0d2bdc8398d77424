package oracle

import (
	"strings"
	"time"
)

// CronItem is one task registered with the node's cron device.
type CronItem struct {
	CreatedAt uint64 `json:"created_at"` // epoch milliseconds
	Path      string `json:"path"`
	PID       string `json:"pid"`
	TaskID    string `json:"task_id"`
	Type      string `json:"type"`
}

type cronListResponse struct {
	Body   []CronItem `json:"body"`
	Device string     `json:"device"`
	Status int        `json:"status"`
}

// ProcessID extracts the process id from a cron path of the form
// "/<id>~process@1.0/now". It returns "" for paths not rooted at "/".
func (c CronItem) ProcessID() string {
	p, ok := strings.CutPrefix(c.Path, "/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(p, "~")
	return id
}

// Created returns the creation time of the task, or nil when unknown.
func (c CronItem) Created() *time.Time {
	if c.CreatedAt == 0 {
		return nil
	}
	t := time.UnixMilli(int64(c.CreatedAt))
	return &t
}
