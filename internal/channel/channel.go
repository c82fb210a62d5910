// Package channel holds the naming rule shared by log publishers and the log relay.
package channel

import "strings"

const (
	// Prefix starts every deployment log channel.
	Prefix = "logs:"
	// Pattern matches every deployment log channel.
	Pattern = Prefix + "*"
)

// ForDeployment returns the bus channel carrying a deployment's log events.
func ForDeployment(deploymentID string) string {
	return Prefix + deploymentID
}

// Room maps a bus channel to the relay room clients join. It reports false for channels
// outside the log namespace.
func Room(channel string) (string, bool) {
	room, ok := strings.CutPrefix(channel, Prefix)
	if !ok || room == "" {
		return "", false
	}
	return room, true
}
