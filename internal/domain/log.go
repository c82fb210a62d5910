package domain

import (
	"encoding/json"
	"strings"
)

const (
	// DoneLine is the terminal log line of a successful build.
	DoneLine = "Done"
	// FailedPrefix starts the terminal log line of a failed build.
	FailedPrefix = "Failed: "
	// StderrPrefix marks lines read from the build tool's error stream.
	StderrPrefix = "error: "
)

// LogEvent is one line of build progress in transit between worker and subscribers.
type LogEvent struct {
	DeploymentID string `json:"-"`
	Text         string `json:"log"`
}

// Payload encodes the event in the bus wire format {"log": "..."}.
func (e LogEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// Terminal reports whether the event ends the deployment's log stream.
func (e LogEvent) Terminal() bool {
	return e.Text == DoneLine || strings.HasPrefix(e.Text, FailedPrefix)
}

// DecodeLogEvent parses a bus payload.
func DecodeLogEvent(deploymentID string, payload []byte) (LogEvent, error) {
	var event LogEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return LogEvent{}, err
	}
	event.DeploymentID = deploymentID
	return event, nil
}
