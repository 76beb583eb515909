package wire

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ClientAgent identifies this tool to Colab's hosts.
const ClientAgent = "lecoder-cli/1.0"

// arrayFrame is the on-the-wire array form:
// [channel, header, parent_header, metadata, content, buffers].
type arrayFrame [6]json.RawMessage

// objectFrame is the on-the-wire object form carrying a top-level channel.
type objectFrame struct {
	Channel      Channel        `json:"channel"`
	Header       Header         `json:"header"`
	ParentHeader Header         `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      map[string]any `json:"content"`
	Buffers      []any          `json:"buffers"`
}

// Encode serializes a Message in the object form this client always sends.
func Encode(msg Message) ([]byte, error) {
	of := objectFrame{
		Channel:      msg.Channel,
		Header:       msg.Header,
		ParentHeader: msg.ParentHeader,
		Metadata:     msg.Metadata,
		Content:      msg.Content,
		Buffers:      msg.Buffers,
	}
	return json.Marshal(of)
}

// Decode accepts both frame shapes Colab's WebSocket emits: a JSON object
// with a top-level "channel" field, or a 6-element JSON array
// [channel, header, parent_header, metadata, content, buffers].
func Decode(raw []byte) (Message, error) {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return decodeArrayFrame(trimmed)
	}
	return decodeObjectFrame(trimmed)
}

func decodeObjectFrame(raw []byte) (Message, error) {
	var of objectFrame
	if err := json.Unmarshal(raw, &of); err != nil {
		return Message{}, fmt.Errorf("wire: decode object frame: %w", err)
	}
	return Message{
		Channel:      of.Channel,
		Header:       of.Header,
		ParentHeader: of.ParentHeader,
		Metadata:     of.Metadata,
		Content:      of.Content,
		Buffers:      of.Buffers,
	}, nil
}

func decodeArrayFrame(raw []byte) (Message, error) {
	var af arrayFrame
	if err := json.Unmarshal(raw, &af); err != nil {
		return Message{}, fmt.Errorf("wire: decode array frame: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(af[0], &msg.Channel); err != nil {
		return Message{}, fmt.Errorf("wire: decode array frame channel: %w", err)
	}
	if err := json.Unmarshal(af[1], &msg.Header); err != nil {
		return Message{}, fmt.Errorf("wire: decode array frame header: %w", err)
	}
	if err := json.Unmarshal(af[2], &msg.ParentHeader); err != nil {
		return Message{}, fmt.Errorf("wire: decode array frame parent_header: %w", err)
	}
	if err := json.Unmarshal(af[3], &msg.Metadata); err != nil {
		return Message{}, fmt.Errorf("wire: decode array frame metadata: %w", err)
	}
	if err := json.Unmarshal(af[4], &msg.Content); err != nil {
		return Message{}, fmt.Errorf("wire: decode array frame content: %w", err)
	}
	if err := json.Unmarshal(af[5], &msg.Buffers); err != nil {
		return Message{}, fmt.Errorf("wire: decode array frame buffers: %w", err)
	}
	return msg, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

// SetColabAPIHeaders applies the headers required for every request to the
// Colab API host: bearer access token, client-agent, and (for tunnel GETs)
// the X-Colab-Tunnel marker.
func SetColabAPIHeaders(req *http.Request, accessToken string, tunnel bool) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", ClientAgent)
	if tunnel {
		req.Header.Set("X-Colab-Tunnel", "colab")
	}
}

// SetProxyHeaders applies the headers required for every request (REST or
// WebSocket) to the per-runtime proxy host.
func SetProxyHeaders(req *http.Request, proxyToken, proxyURL string) {
	req.Header.Set("X-Colab-Runtime-Proxy-Token", proxyToken)
	req.Header.Set("User-Agent", ClientAgent)
	if proxyURL != "" {
		req.Header.Set("Origin", proxyURL)
	}
}

// ProxyWebSocketHeader builds the header set gorilla/websocket's dialer must
// send on the kernel channels handshake: the same proxy-token, client-agent,
// and Origin required of every proxy host request.
func ProxyWebSocketHeader(proxyToken, proxyURL string) http.Header {
	h := http.Header{}
	h.Set("X-Colab-Runtime-Proxy-Token", proxyToken)
	h.Set("User-Agent", ClientAgent)
	if proxyURL != "" {
		h.Set("Origin", proxyURL)
	}
	return h
}

// XSSIPrefix is the anti-XSSI sentinel prepended to some Colab API host
// JSON responses.
var XSSIPrefix = []byte(")]}'\n")

// StripXSSIPrefix removes the anti-XSSI sentinel if present, returning the
// body unchanged otherwise.
func StripXSSIPrefix(body []byte) []byte {
	if len(body) >= len(XSSIPrefix) && string(body[:len(XSSIPrefix)]) == string(XSSIPrefix) {
		return body[len(XSSIPrefix):]
	}
	return body
}
