// Package wire implements the Jupyter messaging protocol carried over
// Colab's kernel WebSocket: message headers, the small set of request and
// reply kinds this client speaks, and the framing used to move them over
// the wire.
package wire

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the Jupyter wire protocol version this client speaks.
const ProtocolVersion = "5.3"

// Channel identifies which ZMQ-style channel a message travels on.
type Channel string

const (
	ChannelShell   Channel = "shell"
	ChannelIOPub   Channel = "iopub"
	ChannelControl Channel = "control"
	ChannelStdin   Channel = "stdin"
)

// MsgType is the tagged union of message kinds this client sends or consumes.
type MsgType string

const (
	MsgKernelInfoRequest MsgType = "kernel_info_request"
	MsgKernelInfoReply   MsgType = "kernel_info_reply"
	MsgExecuteRequest    MsgType = "execute_request"
	MsgExecuteReply      MsgType = "execute_reply"
	MsgStatus            MsgType = "status"
	MsgStream            MsgType = "stream"
	MsgExecuteResult     MsgType = "execute_result"
	MsgDisplayData       MsgType = "display_data"
	MsgUpdateDisplayData MsgType = "update_display_data"
	MsgError             MsgType = "error"
	MsgExecuteInput      MsgType = "execute_input"
	MsgInterruptRequest  MsgType = "interrupt_request"
)

// Header is the required {msg_id, username, session, date, msg_type,
// version} header on every Jupyter message.
type Header struct {
	MsgID    string    `json:"msg_id"`
	Username string    `json:"username"`
	Session  string    `json:"session"`
	Date     time.Time `json:"date"`
	MsgType  MsgType   `json:"msg_type"`
	Version  string    `json:"version"`
}

// NewHeader builds a fresh header for a message of the given type,
// attaching a new msg_id and the client's stable session id.
func NewHeader(msgType MsgType, clientSession string) Header {
	return Header{
		MsgID:    uuid.NewString(),
		Username: "lecoder",
		Session:  clientSession,
		Date:     time.Now().UTC(),
		MsgType:  msgType,
		Version:  ProtocolVersion,
	}
}

// Message is the six-part record every Jupyter frame carries: header,
// parent_header, metadata, content, buffers, and the channel tag.
type Message struct {
	Channel      Channel        `json:"channel"`
	Header       Header         `json:"header"`
	ParentHeader Header         `json:"parent_header"`
	Metadata     map[string]any `json:"metadata"`
	Content      map[string]any `json:"content"`
	Buffers      []any          `json:"buffers"`
}

// ExecuteRequestContent is the content body of an execute_request message.
type ExecuteRequestContent struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

// NewExecuteRequest builds a complete execute_request message for code,
// generating a fresh msg_id bound to clientSession.
func NewExecuteRequest(code, clientSession string) Message {
	content := ExecuteRequestContent{
		Code:            code,
		Silent:          false,
		StoreHistory:    true,
		UserExpressions: map[string]any{},
		AllowStdin:      false,
		StopOnError:     true,
	}
	return Message{
		Channel:      ChannelShell,
		Header:       NewHeader(MsgExecuteRequest, clientSession),
		ParentHeader: Header{},
		Metadata:     map[string]any{},
		Content:      structToMap(content),
		Buffers:      []any{},
	}
}

// NewKernelInfoRequest builds a kernel_info_request message.
func NewKernelInfoRequest(clientSession string) Message {
	return Message{
		Channel:      ChannelShell,
		Header:       NewHeader(MsgKernelInfoRequest, clientSession),
		ParentHeader: Header{},
		Metadata:     map[string]any{},
		Content:      map[string]any{},
		Buffers:      []any{},
	}
}

func structToMap(v ExecuteRequestContent) map[string]any {
	return map[string]any{
		"code":             v.Code,
		"silent":           v.Silent,
		"store_history":    v.StoreHistory,
		"user_expressions": v.UserExpressions,
		"allow_stdin":      v.AllowStdin,
		"stop_on_error":    v.StopOnError,
	}
}

// StreamContent is the content of a stream message ({name, text}).
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// DisplayDataContent is the content shared by execute_result, display_data
// and update_display_data messages.
type DisplayDataContent struct {
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
}

// ErrorContent is the content of an error message or the error fields of
// an execute_reply with status "error".
type ErrorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// ExecuteReplyContent is the content of an execute_reply message.
type ExecuteReplyContent struct {
	Status         string   `json:"status"`
	ExecutionCount int      `json:"execution_count"`
	EName          string   `json:"ename,omitempty"`
	EValue         string   `json:"evalue,omitempty"`
	Traceback      []string `json:"traceback,omitempty"`
}

// StatusContent is the content of a status message.
type StatusContent struct {
	ExecutionState string `json:"execution_state"`
}

func stringField(content map[string]any, key string) string {
	v, _ := content[key].(string)
	return v
}

func floatField(content map[string]any, key string) (float64, bool) {
	v, ok := content[key].(float64)
	return v, ok
}

func stringSliceField(content map[string]any, key string) []string {
	raw, ok := content[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// AsStream decodes content as StreamContent.
func AsStream(content map[string]any) StreamContent {
	return StreamContent{
		Name: stringField(content, "name"),
		Text: stringField(content, "text"),
	}
}

// AsDisplayData decodes content as DisplayDataContent.
func AsDisplayData(content map[string]any) DisplayDataContent {
	data, _ := content["data"].(map[string]any)
	metadata, _ := content["metadata"].(map[string]any)
	dd := DisplayDataContent{Data: data, Metadata: metadata}
	if count, ok := floatField(content, "execution_count"); ok {
		n := int(count)
		dd.ExecutionCount = &n
	}
	return dd
}

// AsError decodes content as ErrorContent.
func AsError(content map[string]any) ErrorContent {
	return ErrorContent{
		EName:     stringField(content, "ename"),
		EValue:    stringField(content, "evalue"),
		Traceback: stringSliceField(content, "traceback"),
	}
}

// AsExecuteReply decodes content as ExecuteReplyContent.
func AsExecuteReply(content map[string]any) ExecuteReplyContent {
	reply := ExecuteReplyContent{
		Status: stringField(content, "status"),
		EName:  stringField(content, "ename"),
		EValue: stringField(content, "evalue"),
	}
	if count, ok := floatField(content, "execution_count"); ok {
		reply.ExecutionCount = int(count)
	}
	reply.Traceback = stringSliceField(content, "traceback")
	return reply
}

// AsStatus decodes content as StatusContent.
func AsStatus(content map[string]any) StatusContent {
	return StatusContent{ExecutionState: stringField(content, "execution_state")}
}
