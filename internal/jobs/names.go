// Package jobs orchestrates the asset processing pipeline: which tasks are enqueued,
// in which order queues depend on each other, and how administrative commands
// change a queue's runtime state.
package jobs

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-jobs/internal/database"
)

// JobName identifies one processing queue.
type JobName string

const (
	MetadataExtraction  JobName = "metadataExtraction"
	ThumbnailGeneration JobName = "thumbnailGeneration"
	SmartSearch         JobName = "smartSearch"
	FaceDetection       JobName = "faceDetection"
	FacialRecognition   JobName = "facialRecognition"
	DuplicateDetection  JobName = "duplicateDetection"
)

// Names lists every job name in pipeline order.
var Names = []JobName{
	MetadataExtraction,
	ThumbnailGeneration,
	SmartSearch,
	FaceDetection,
	FacialRecognition,
	DuplicateDetection,
}

// JobCommand is an administrative command issued against one queue.
type JobCommand string

const (
	CommandStart       JobCommand = "start"
	CommandPause       JobCommand = "pause"
	CommandResume      JobCommand = "resume"
	CommandEmpty       JobCommand = "empty"
	CommandClearFailed JobCommand = "clear-failed"
)

// Commands lists every supported command.
var Commands = []JobCommand{CommandStart, CommandPause, CommandResume, CommandEmpty, CommandClearFailed}

var (
	// ErrInvalidJobName is returned for commands or queries against an unknown queue.
	ErrInvalidJobName = errors.New("invalid job name")
	// ErrInvalidJobCommand is returned for unknown commands.
	ErrInvalidJobCommand = errors.New("invalid job command")
	// ErrQueueDrainTimeout is returned when a queue did not drain in time.
	ErrQueueDrainTimeout = errors.New("queue did not drain before timeout")
)

// ParseJobName validates s as a job name.
func ParseJobName(s string) (JobName, error) {
	for _, n := range Names {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidJobName, s)
}

// ParseJobCommand validates s as a job command.
func ParseJobCommand(s string) (JobCommand, error) {
	for _, c := range Commands {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidJobCommand, s)
}

// Valid reports whether n is a known job name.
func (n JobName) Valid() bool {
	_, err := ParseJobName(string(n))
	return err == nil
}

// Attribute returns the derived attribute produced by the job.
// Each attribute is produced by exactly one job name.
func (n JobName) Attribute() database.Attribute {
	switch n {
	case MetadataExtraction:
		return database.AttributeMetadata
	case ThumbnailGeneration:
		return database.AttributeThumbnail
	case SmartSearch:
		return database.AttributeEmbedding
	case FaceDetection:
		return database.AttributeFaces
	case FacialRecognition:
		return database.AttributePeople
	case DuplicateDetection:
		return database.AttributeDuplicates
	}
	return ""
}
