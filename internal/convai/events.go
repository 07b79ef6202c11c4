// Package convai models the JSON events exchanged with the ElevenLabs
// Conversational AI websocket and the browser clients relayed to it.
package convai

import "slices"

// EventType is the value of a message's "type" field.
type EventType string

// Client to provider events.
const (
	ConversationInitiationClientData EventType = "conversation_initiation_client_data"
	UserAudioChunk                   EventType = "user_audio_chunk"
	Pong                             EventType = "pong"
	ClientToolResult                 EventType = "client_tool_result"
	ContextualUpdate                 EventType = "contextual_update"
	UserMessage                      EventType = "user_message"
	UserActivity                     EventType = "user_activity"
)

// Provider to client events.
const (
	ConversationInitiationMetadata EventType = "conversation_initiation_metadata"
	UserTranscript                 EventType = "user_transcript"
	AgentResponse                  EventType = "agent_response"
	AgentResponseCorrection        EventType = "agent_response_correction"
	Audio                          EventType = "audio"
	Interruption                   EventType = "interruption"
	Ping                           EventType = "ping"
	ClientToolCall                 EventType = "client_tool_call"
	VADScore                       EventType = "vad_score"
	InternalTentativeAgentResponse EventType = "internal_tentative_agent_response"
)

// Events originated by the proxy itself.
const (
	Connected EventType = "connected"
	Error     EventType = "error"
)

// ClientEvents lists the event types a browser client sends.
var ClientEvents = []EventType{
	ConversationInitiationClientData,
	UserAudioChunk,
	Pong,
	ClientToolResult,
	ContextualUpdate,
	UserMessage,
	UserActivity,
}

// ProviderEvents lists the event types the provider sends.
var ProviderEvents = []EventType{
	ConversationInitiationMetadata,
	UserTranscript,
	AgentResponse,
	AgentResponseCorrection,
	Audio,
	Interruption,
	Ping,
	ClientToolCall,
	VADScore,
	InternalTentativeAgentResponse,
}

// Known reports whether t belongs to the documented vocabulary.
// Unknown types are still relayed untouched.
func (t EventType) Known() bool {
	return slices.Contains(ClientEvents, t) ||
		slices.Contains(ProviderEvents, t) ||
		t == Connected || t == Error
}

// FeedbackKey is a conversation rating accepted by the provider.
type FeedbackKey string

const (
	FeedbackLike    FeedbackKey = "like"
	FeedbackDislike FeedbackKey = "dislike"
)

// Valid reports whether k is a supported feedback value.
func (k FeedbackKey) Valid() bool {
	return k == FeedbackLike || k == FeedbackDislike
}
