package bot

import "testing"

func TestReplyStateRoundTrip(t *testing.T) {
	raw := encodeReplyState("user-42")
	name, payload := parseState(raw)
	if name != stateAwaitingReply {
		t.Errorf("name = %q, want %q", name, stateAwaitingReply)
	}
	if payload != "user-42" {
		t.Errorf("payload = %q, want %q", payload, "user-42")
	}
}

func TestParseStateWithoutPayload(t *testing.T) {
	name, payload := parseState(stateAwaitingName)
	if name != stateAwaitingName || payload != "" {
		t.Errorf("parseState = (%q, %q)", name, payload)
	}
}
