// Package workflow runs the durable video generation jobs. Each run is a
// sequence of named steps whose results are memoized, so a redelivered run
// resumes after the last step that completed.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vidtube/internal/retry"
	"vidtube/internal/util"
)

const (
	Title       = "title"
	Description = "description"
	Thumbnail   = "thumbnail"
)

const MinPromptLength = 10

var ErrUnknownWorkflow = errors.New("unknown workflow")

// Payload is the body both the queue and the signed HTTP endpoint carry.
type Payload struct {
	RunID    string `json:"runId"`
	Workflow string `json:"workflow"`
	UserID   string `json:"userId"`
	VideoID  string `json:"videoId"`
	Prompt   string `json:"prompt,omitempty"`
}

// Known reports whether name is a workflow this package can run.
func Known(name string) bool {
	switch name {
	case Title, Description, Thumbnail:
		return true
	}
	return false
}

// Validate fills in a run id when missing. Validation failures are fatal
// since a redelivery cannot fix them.
func (p *Payload) Validate() error {
	if !Known(p.Workflow) {
		return retry.Fatal(fmt.Errorf("%w: %q", ErrUnknownWorkflow, p.Workflow))
	}
	if !util.IsUUID(p.UserID) || !util.IsUUID(p.VideoID) {
		return retry.Fatal(errors.New("userId and videoId must be uuids"))
	}
	if p.Workflow == Thumbnail && len(strings.TrimSpace(p.Prompt)) < MinPromptLength {
		return retry.Fatal(fmt.Errorf("prompt must be at least %d characters", MinPromptLength))
	}
	if p.RunID == "" {
		p.RunID = util.NewID()
	}
	return nil
}

func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, retry.Fatal(fmt.Errorf("decode workflow payload: %w", err))
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
