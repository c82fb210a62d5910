package channel

import "testing"

func TestRoomInvertsForDeployment(t *testing.T) {
	for _, id := range []string{"brave-blue-fox", "a", "x1-y2"} {
		room, ok := Room(ForDeployment(id))
		if !ok || room != id {
			t.Fatalf("Room(ForDeployment(%q)) = %q, %v", id, room, ok)
		}
	}
}

func TestRoomRejectsForeignChannels(t *testing.T) {
	for _, ch := range []string{"", "logs:", "metrics:foo", "foo"} {
		if room, ok := Room(ch); ok {
			t.Fatalf("expected %q to be rejected, got room %q", ch, room)
		}
	}
}

func TestPatternCoversPrefix(t *testing.T) {
	if Pattern != "logs:*" {
		t.Fatalf("unexpected pattern %q", Pattern)
	}
}
