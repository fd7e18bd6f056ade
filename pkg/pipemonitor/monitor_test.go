package pipemonitor

import (
	"testing"
)

func TestMonitorCountsByStage(t *testing.T) {
	m := New(10)

	m.Record(Event{Stage: "inbound", Status: "ok"})
	m.Record(Event{Stage: "ai_request", Status: "ok"})
	m.Record(Event{Stage: "ai_response", Status: "ok"})
	m.Record(Event{Stage: "ai_response", Status: "error", Error: "provider down"})
	m.Record(Event{Stage: "outbound", Status: "ok"})
	m.Record(Event{Stage: "outbound", Status: "skipped"})

	stats := m.GetStats()
	if stats.TotalInbound != 1 {
		t.Errorf("TotalInbound = %d, want 1", stats.TotalInbound)
	}
	if stats.TotalAIRequests != 1 {
		t.Errorf("TotalAIRequests = %d, want 1", stats.TotalAIRequests)
	}
	if stats.TotalAIReplies != 1 {
		t.Errorf("TotalAIReplies = %d, want 1", stats.TotalAIReplies)
	}
	if stats.TotalOutbound != 1 {
		t.Errorf("TotalOutbound = %d, want 1", stats.TotalOutbound)
	}
	if stats.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d, want 1", stats.TotalErrors)
	}
	if len(stats.RecentEvents) != 6 {
		t.Errorf("RecentEvents = %d, want 6", len(stats.RecentEvents))
	}
}

func TestMonitorRingOverwrite(t *testing.T) {
	m := New(3)
	for i := 0; i < 5; i++ {
		m.Record(Event{Stage: "inbound", Status: "ok", ChannelID: string(rune('a' + i))})
	}

	stats := m.GetStats()
	if len(stats.RecentEvents) != 3 {
		t.Fatalf("RecentEvents = %d, want 3", len(stats.RecentEvents))
	}
	// Oldest two entries were overwritten
	if stats.RecentEvents[0].ChannelID != "c" {
		t.Errorf("oldest retained event = %q, want %q", stats.RecentEvents[0].ChannelID, "c")
	}
	if stats.TotalInbound != 5 {
		t.Errorf("TotalInbound = %d, want 5", stats.TotalInbound)
	}
}
