package model

import "encoding/json"

const (
	StatusDisabled = "disabled"
	StatusSyncing  = "syncing"
	StatusSuccess  = "success"
	StatusFailed   = "failed"

	SizeUnknown = "unknown"
)

// MirrorStatus is a job as reported by the remote manager. Timestamps are
// kept verbatim since the manager formats them differently per endpoint.
type MirrorStatus struct {
	Name         string          `json:"name"`
	Worker       string          `json:"worker,omitempty"`
	IsMaster     bool            `json:"is_master,omitempty"`
	Status       string          `json:"status"`
	Upstream     string          `json:"upstream,omitempty"`
	Size         string          `json:"size,omitempty"`
	ErrorMsg     string          `json:"error_msg,omitempty"`
	LastUpdate   json.RawMessage `json:"last_update,omitempty"`
	LastStarted  json.RawMessage `json:"last_started,omitempty"`
	LastEnded    json.RawMessage `json:"last_ended,omitempty"`
	NextSchedule json.RawMessage `json:"next_schedule,omitempty"`
}

type Worker struct {
	ID           string          `json:"id"`
	URL          string          `json:"url,omitempty"`
	LastOnline   json.RawMessage `json:"last_online,omitempty"`
	LastRegister json.RawMessage `json:"last_register,omitempty"`
}

type PodInfo struct {
	Name   string            `json:"name"`
	Node   string            `json:"node"`
	Status string            `json:"status"`
	Image  string            `json:"image"`
	Ready  bool              `json:"ready"`
	Usage  map[string]string `json:"usage,omitempty"`
}

// Transfer is the progress of a running rsync transfer, parsed from the log.
type Transfer struct {
	FileName    string `json:"file_name"`
	Transferred string `json:"rsync_size"`
	Rate        string `json:"rate"`
	Speed       string `json:"speed"`
	Remain      string `json:"remain"`
	Checked     int    `json:"chk_now"`
	Remaining   int    `json:"chk_remain"`
	Total       int    `json:"total"`
}

type JobStatus struct {
	MirrorStatus
	Pods     []PodInfo `json:"pods"`
	DataSize string    `json:"data_size,omitempty"`
	*Transfer
}

type JobInfo struct {
	Spec   JobSpec    `json:"spec"`
	Status *JobStatus `json:"status,omitempty"`
}
