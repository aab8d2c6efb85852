// Package progress defines the event structures emitted while a lookup runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageTaskDone   Stage = "TASK_DONE"
	StageTaskFailed Stage = "TASK_FAILED"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Event captures a single milestone of a lookup run.
type Event struct {
	// RunID uniquely identifies a lookup run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or task milestone occurred.
	Stage Stage
	// TaskID scopes task events.
	TaskID string
	// Provider is the provider a task ran against.
	Provider string
	// Query is the search string of a task, or the normalized phone number on
	// RUN_START.
	Query string
	// ResultCount is the number of records a task returned, or the number of
	// unique records for RUN_DONE.
	ResultCount int
	// Duplicates is the number of dropped duplicates, set on RUN_DONE.
	Duplicates int
	// Tasks is the number of planned tasks, set on RUN_START.
	Tasks int
	// Partial marks a RUN_DONE whose deadline expired before every task ended.
	Partial bool
	// Dur captures task latency or total run time.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageTaskDone, StageTaskFailed:
		if e.TaskID == "" {
			return errors.New("task events require task id")
		}
		if e.Provider == "" {
			return errors.New("task events require provider")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.ResultCount < 0 {
		return errors.New("result count must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
