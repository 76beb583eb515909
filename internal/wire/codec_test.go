package wire

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeObjectFrameRoundTrip(t *testing.T) {
	msg := NewExecuteRequest("print(1)", "client-session")

	raw, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Header.MsgID != msg.Header.MsgID {
		t.Fatalf("msg_id mismatch: got %q want %q", got.Header.MsgID, msg.Header.MsgID)
	}
	if got.Channel != ChannelShell {
		t.Fatalf("channel mismatch: got %q", got.Channel)
	}
	if got.Content["code"] != "print(1)" {
		t.Fatalf("content code mismatch: got %v", got.Content["code"])
	}
}

func TestDecodeArrayFrame(t *testing.T) {
	header := Header{MsgID: "abc", MsgType: MsgStatus, Version: ProtocolVersion}
	headerJSON, _ := json.Marshal(header)
	content := map[string]any{"execution_state": "idle"}
	contentJSON, _ := json.Marshal(content)
	empty, _ := json.Marshal(map[string]any{})
	emptyArr, _ := json.Marshal([]any{})
	channel, _ := json.Marshal(ChannelIOPub)

	arr := []json.RawMessage{channel, headerJSON, empty, empty, contentJSON, emptyArr}
	raw, err := json.Marshal(arr)
	if err != nil {
		t.Fatalf("marshal array: %v", err)
	}

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode array frame: %v", err)
	}
	if msg.Channel != ChannelIOPub {
		t.Fatalf("channel mismatch: got %q", msg.Channel)
	}
	if msg.Header.MsgID != "abc" {
		t.Fatalf("msg_id mismatch: got %q", msg.Header.MsgID)
	}
	status := AsStatus(msg.Content)
	if status.ExecutionState != "idle" {
		t.Fatalf("execution_state mismatch: got %q", status.ExecutionState)
	}
}

func TestStripXSSIPrefix(t *testing.T) {
	body := append([]byte(")]}'\n"), []byte(`{"a":1}`)...)
	stripped := StripXSSIPrefix(body)
	if string(stripped) != `{"a":1}` {
		t.Fatalf("unexpected stripped body: %q", stripped)
	}

	noPrefix := []byte(`{"a":1}`)
	if string(StripXSSIPrefix(noPrefix)) != `{"a":1}` {
		t.Fatalf("body without prefix should be unchanged")
	}
}
