package listing

import (
	"encoding/json"
	"fmt"

	"github.com/your-org/vodpipeline/internal/pipeline"
)

// Job states reported by the transcoding service.
const (
	StateProgressing = "PROGRESSING"
	StateCompleted   = "COMPLETED"
	StateWarning     = "WARNING"
	StateError       = "ERROR"
)

// Notification is the job status message the transcoding service publishes.
type Notification struct {
	State           string      `json:"state"`
	JobID           string      `json:"jobId"`
	PipelineID      string      `json:"pipelineId"`
	OutputKeyPrefix string      `json:"outputKeyPrefix"`
	Input           InputRef    `json:"input"`
	ErrorCode       int         `json:"errorCode,omitempty"`
	MessageDetails  string      `json:"messageDetails,omitempty"`
	Outputs         []OutputRef `json:"outputs,omitempty"`
}

type InputRef struct {
	Key string `json:"key"`
}

type OutputRef struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Status string `json:"status"`
}

// ParseNotification decodes one bus message.
func ParseNotification(msg string) (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(msg), &n); err != nil {
		return Notification{}, fmt.Errorf("%w: decode job status: %v", pipeline.ErrMalformedEvent, err)
	}
	return n, nil
}

// validate checks the fields manifest generation depends on. An empty output
// prefix would list the whole bucket.
func (n Notification) validate() error {
	if n.OutputKeyPrefix == "" {
		return fmt.Errorf("%w: job %q has no outputKeyPrefix", pipeline.ErrMalformedEvent, n.JobID)
	}
	if n.Input.Key == "" {
		return fmt.Errorf("%w: job %q has no input key", pipeline.ErrMalformedEvent, n.JobID)
	}
	return nil
}
