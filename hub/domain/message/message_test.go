package message

import "testing"

func TestConversationIDDeterministic(t *testing.T) {
	a := ConversationID("ch1", "+5215550001")
	b := ConversationID("ch1", "+5215550001")
	if a != b {
		t.Fatalf("same inputs produced different ids: %s vs %s", a, b)
	}
	if a == "" {
		t.Fatal("conversation id must not be empty")
	}
}

func TestConversationIDDistinguishesInputs(t *testing.T) {
	base := ConversationID("ch1", "user1")
	if ConversationID("ch2", "user1") == base {
		t.Error("different channels must yield different conversation ids")
	}
	if ConversationID("ch1", "user2") == base {
		t.Error("different remotes must yield different conversation ids")
	}
	// The separator keeps (ab, c) and (a, bc) apart
	if ConversationID("ab", "c") == ConversationID("a", "bc") {
		t.Error("concatenation ambiguity detected")
	}
}

func TestParseType(t *testing.T) {
	if got := ParseType("image"); got != TypeImage {
		t.Errorf("ParseType(image) = %s", got)
	}
	if got := ParseType("sticker"); got != TypeText {
		t.Errorf("unknown types should default to text, got %s", got)
	}
	if got := ParseType(""); got != TypeText {
		t.Errorf("empty type should default to text, got %s", got)
	}
}
