package models

import "time"

// StatusEvent is pushed to every subscriber of a room.
// Events are not retained: a late subscriber misses earlier ones.
type StatusEvent struct {
	ID           string     `json:"id"`
	JobID        string     `json:"jobId,omitempty"`
	Room         string     `json:"room"`
	Step         Step       `json:"step"`
	Status       StepStatus `json:"status"`
	Message      string     `json:"message"`
	ViewerURL    string     `json:"viewerUrl,omitempty"`
	ViewerActive *bool      `json:"viewerActive,omitempty"`
	ContainerID  string     `json:"containerId,omitempty"`
	SplatPath    string     `json:"splatPath,omitempty"`
	SplatURL     string     `json:"splatUrl,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// JobSnapshot is the latest known state of a room's training run
type JobSnapshot struct {
	JobID     string     `json:"jobId"`
	Room      string     `json:"room"`
	Step      Step       `json:"step"`
	Status    StepStatus `json:"status"`
	Message   string     `json:"message"`
	ViewerURL string     `json:"viewerUrl,omitempty"`
	SplatPath string     `json:"splatPath,omitempty"`
	Running   bool       `json:"running"`
	StartedAt time.Time  `json:"startedAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
