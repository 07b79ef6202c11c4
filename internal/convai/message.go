package convai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrNotObject is returned by Parse when a frame is valid JSON but not an object.
var ErrNotObject = errors.New("message is not a JSON object")

// Message is one relayed event. The original bytes are kept so that
// unhandled messages are forwarded verbatim.
type Message struct {
	Type EventType
	raw  json.RawMessage
}

// Parse decodes the type tag of a websocket text frame.
func Parse(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if !json.Valid(trimmed) {
			return Message{}, errors.New("parsing message: invalid JSON")
		}
		return Message{}, ErrNotObject
	}
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return Message{}, fmt.Errorf("parsing message: %w", err)
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Message{Type: head.Type, raw: raw}, nil
}

// New marshals v into a Message. v must encode to an object with a "type" field.
func New(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("encoding message: %w", err)
	}
	return Parse(data)
}

// Bytes returns the wire form of the message.
func (m Message) Bytes() []byte {
	return m.raw
}

// Decode unmarshals the full message into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.raw, v)
}

// ToolCall is the payload of a client_tool_call event.
type ToolCall struct {
	ToolName   string         `json:"tool_name"`
	ToolCallID string         `json:"tool_call_id"`
	Parameters map[string]any `json:"parameters"`
}

type toolCallEnvelope struct {
	Type     EventType `json:"type"`
	ToolCall ToolCall  `json:"client_tool_call"`
}

// ToolCall extracts the tool call carried by a client_tool_call event.
func (m Message) ToolCall() (ToolCall, bool) {
	if m.Type != ClientToolCall {
		return ToolCall{}, false
	}
	var env toolCallEnvelope
	if err := m.Decode(&env); err != nil || env.ToolCall.ToolName == "" {
		return ToolCall{}, false
	}
	if env.ToolCall.Parameters == nil {
		env.ToolCall.Parameters = map[string]any{}
	}
	return env.ToolCall, true
}

// ToolResult is a client_tool_result event.
type ToolResult struct {
	Type       EventType `json:"type"`
	ToolCallID string    `json:"tool_call_id"`
	Result     string    `json:"result"`
	IsError    bool      `json:"is_error"`
}

// ToolResult extracts a client_tool_result event.
func (m Message) ToolResult() (ToolResult, bool) {
	if m.Type != ClientToolResult {
		return ToolResult{}, false
	}
	var res ToolResult
	if err := m.Decode(&res); err != nil {
		return ToolResult{}, false
	}
	return res, true
}

// AgentResponseText returns the agent utterance of an agent_response event.
func (m Message) AgentResponseText() (string, bool) {
	if m.Type != AgentResponse {
		return "", false
	}
	var env struct {
		Event struct {
			AgentResponse string `json:"agent_response"`
		} `json:"agent_response_event"`
	}
	if err := m.Decode(&env); err != nil {
		return "", false
	}
	return env.Event.AgentResponse, env.Event.AgentResponse != ""
}

// ConversationID returns the id announced by conversation_initiation_metadata.
func (m Message) ConversationID() (string, bool) {
	if m.Type != ConversationInitiationMetadata {
		return "", false
	}
	var env struct {
		Event struct {
			ConversationID string `json:"conversation_id"`
		} `json:"conversation_initiation_metadata_event"`
	}
	if err := m.Decode(&env); err != nil {
		return "", false
	}
	return env.Event.ConversationID, env.Event.ConversationID != ""
}

// WithToolCallParameters returns a copy of a client_tool_call event whose
// parameters are replaced. Fields other than the parameters are preserved
// byte for byte, so large numbers elsewhere in the event keep their precision.
func (m Message) WithToolCallParameters(params map[string]any) (Message, error) {
	if m.Type != ClientToolCall {
		return Message{}, fmt.Errorf("cannot set tool parameters on %q event", m.Type)
	}
	var doc map[string]json.RawMessage
	if err := m.Decode(&doc); err != nil {
		return Message{}, fmt.Errorf("decoding tool call: %w", err)
	}
	var call map[string]json.RawMessage
	if err := json.Unmarshal(doc["client_tool_call"], &call); err != nil || call == nil {
		return Message{}, errors.New("tool call payload missing")
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return Message{}, fmt.Errorf("encoding tool parameters: %w", err)
	}
	call["parameters"] = encoded
	if doc["client_tool_call"], err = json.Marshal(call); err != nil {
		return Message{}, fmt.Errorf("encoding tool call: %w", err)
	}
	return New(doc)
}

// ConnectedEvent is the first message a client receives.
func ConnectedEvent(clientID string) Message {
	msg, _ := New(map[string]any{
		"type": Connected,
		"data": map[string]any{"status": "connected", "client_id": clientID},
	})
	return msg
}

// ErrorEvent is sent to the client before an error close.
func ErrorEvent(reason, code string) Message {
	data := map[string]any{"error": reason}
	if code != "" {
		data["code"] = code
	}
	msg, _ := New(map[string]any{"type": Error, "data": data})
	return msg
}

// NewToolCall builds a client_tool_call event addressed to the browser.
func NewToolCall(toolName, toolCallID string, params map[string]any) (Message, error) {
	if params == nil {
		params = map[string]any{}
	}
	return New(toolCallEnvelope{
		Type: ClientToolCall,
		ToolCall: ToolCall{
			ToolName:   toolName,
			ToolCallID: toolCallID,
			Parameters: params,
		},
	})
}

// NewToolResult builds a client_tool_result event addressed to the provider.
// Non-string results are JSON encoded since the provider expects text.
func NewToolResult(toolCallID string, result any, isError bool) (Message, error) {
	text, ok := result.(string)
	if !ok {
		data, err := json.Marshal(result)
		if err != nil {
			return Message{}, fmt.Errorf("encoding tool result: %w", err)
		}
		text = string(data)
	}
	return New(ToolResult{
		Type:       ClientToolResult,
		ToolCallID: toolCallID,
		Result:     text,
		IsError:    isError,
	})
}

// CorrelationID derives the id shared by every message produced while
// answering one tool call. It is the suffix after the last underscore of the
// provider's call id when present, otherwise a name-based UUID of the tool
// name and scope.
func CorrelationID(inboundCallID, toolName, scope string) string {
	if i := strings.LastIndex(inboundCallID, "_"); i >= 0 && i < len(inboundCallID)-1 {
		return inboundCallID[i+1:]
	}
	if inboundCallID != "" && !strings.Contains(inboundCallID, "_") {
		return inboundCallID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(toolName+"_"+scope)).String()
}
