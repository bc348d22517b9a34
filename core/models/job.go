package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Step is a stage in the training pipeline
type Step string

const (
	StepOverall  Step = "overall"
	StepStarting Step = "starting"
	StepSetup    Step = "setup"
	StepDownload Step = "download"
	StepUnzip    Step = "unzip"
	StepProcess  Step = "process"
	StepTrain    Step = "train"
	StepExport   Step = "export"
	StepConvert  Step = "convert"
	StepUpload   Step = "upload"
	StepCleanup  Step = "cleanup"
	StepFinal    Step = "final"
)

// PipelineSteps is the fixed execution order. No step starts before
// the previous one has returned.
var PipelineSteps = []Step{
	StepSetup,
	StepDownload,
	StepUnzip,
	StepProcess,
	StepTrain,
	StepExport,
	StepConvert,
	StepUpload,
	StepCleanup,
	StepFinal,
}

// StepStatus represents the status carried by a status event
type StepStatus string

const (
	StatusStarted   StepStatus = "started"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusError     StepStatus = "error"
	StatusWarning   StepStatus = "warning"
	StatusHeartbeat StepStatus = "heartbeat"
)

// Terminal reports whether no further events are expected for the step
func (s StepStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusWarning
}

// ErrInvalidJobKey is wrapped by JobKey.Validate failures
var ErrInvalidJobKey = errors.New("invalid job key")

// JobKey identifies a training run
type JobKey struct {
	UserID      string `json:"userId"`
	ProjectName string `json:"projectName"`
}

// Room returns the publish/subscribe key for the job
func (k JobKey) Room() string {
	return fmt.Sprintf("%s_%s", k.UserID, k.ProjectName)
}

// Validate checks that both halves of the key are present and usable as
// a single path segment on the remote host and in the bucket. The userId
// may not contain '_' so that Room splits back into exactly one key.
func (k JobKey) Validate() error {
	if k.UserID == "" || k.ProjectName == "" {
		return fmt.Errorf("%w: userId and projectName are required", ErrInvalidJobKey)
	}
	if strings.Contains(k.UserID, "_") {
		return fmt.Errorf("%w: userId %q contains '_'", ErrInvalidJobKey, k.UserID)
	}
	for _, part := range []string{k.UserID, k.ProjectName} {
		if part == "." || part == ".." || strings.ContainsAny(part, "/\\\x00") {
			return fmt.Errorf("%w: invalid path segment %q", ErrInvalidJobKey, part)
		}
	}
	return nil
}

// StepRecord is the outcome of one executed step
type StepRecord struct {
	Step       Step          `json:"step"`
	Status     StepStatus    `json:"status"`
	Message    string        `json:"message,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	ExitStatus int           `json:"exit_status,omitempty"`
}

// JobResult is returned by a completed training run
type JobResult struct {
	JobID       string       `json:"jobId"`
	ContainerID string       `json:"containerId"`
	MeshPath    string       `json:"meshPath"`
	SplatPath   string       `json:"splatPath"`
	SplatURL    string       `json:"splatUrl,omitempty"`
	InstanceIP  string       `json:"instanceIp"`
	Steps       []StepRecord `json:"steps"`
}
