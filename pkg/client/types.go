package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the response wrapper of every operator endpoint except /state.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
}

// AddRequest queues a new process.
type AddRequest struct {
	Name      string `json:"name"`
	ProcessID string `json:"process_id"`
	BaseURL   string `json:"base_url,omitempty"`
}

// Metrics mirrors the sync metrics of a process.
type Metrics struct {
	InitialSlotDeficit     *uint64    `json:"initial_slot_deficit"`
	SlotsAdvancedLastCheck uint64     `json:"slots_advanced_last_check"`
	TotalSlotsAdvanced     uint64     `json:"total_slots_advanced"`
	SyncStartTime          *time.Time `json:"sync_start_time"`
	SyncEndTime            *time.Time `json:"sync_end_time"`
	AvgSyncRate            float64    `json:"avg_sync_rate"`
	CheckCount             uint64     `json:"check_count"`
	APIResponseTimes       []float64  `json:"api_response_times"`
}

// Process is one tracked process as reported by the daemon.
type Process struct {
	ProcessID         string            `json:"process_id"`
	Name              string            `json:"name"`
	BaseURL           string            `json:"base_url,omitempty"`
	State             string            `json:"state"`
	CronInitialized   bool              `json:"cron_initialized"`
	ComputedSlot      *uint64           `json:"computed_slot"`
	CurrentSlot       *uint64           `json:"current_slot"`
	LastChecked       *time.Time        `json:"last_checked"`
	Error             string            `json:"error,omitempty"`
	Metrics           Metrics           `json:"metrics"`
	QueuePosition     *int              `json:"queue_position"`
	ActivatedAt       *time.Time        `json:"activated_at"`
	SyncedAt          *time.Time        `json:"synced_at"`
	HBReserves        map[string]string `json:"hb_reserves"`
	AOReserves        map[string]string `json:"ao_reserves"`
	ReservesCheckedAt *time.Time        `json:"reserves_last_checked"`
	CronCreatedAt     *time.Time        `json:"cron_created_at"`
}

// Status is the payload of GET /status.
type Status struct {
	ActiveCount     int       `json:"active_count"`
	QueuedCount     int       `json:"queued_count"`
	SyncedCount     int       `json:"synced_count"`
	ErrorCount      int       `json:"error_count"`
	TotalCount      int       `json:"total_count"`
	RuntimeSeconds  uint64    `json:"runtime_seconds"`
	MaxActive       int       `json:"max_active"`
	ActiveProcesses []Process `json:"active_processes"`
	QueuePreview    []Process `json:"queue_preview"`
	RecentSynced    []Process `json:"recent_synced"`
}

// CronItem is one entry of the oracle cron list.
type CronItem struct {
	CreatedAt uint64 `json:"created_at"`
	Path      string `json:"path"`
	PID       string `json:"pid"`
	TaskID    string `json:"task_id"`
	Type      string `json:"type"`
}

// CronList is the payload of GET /crons.
type CronList struct {
	FetchedAt *time.Time `json:"fetched_at"`
	Items     []CronItem `json:"items"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}
