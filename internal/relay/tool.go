package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soyeahso/voicebridge/internal/convai"
	"github.com/soyeahso/voicebridge/internal/metrics"
)

// Capability computes the result of a tool call from its parameters.
type Capability func(ctx context.Context, params map[string]any) (any, error)

// ToolCallSpec configures the dispatch of one provider tool.
type ToolCallSpec struct {
	ToolName   string
	Required   []string
	Capability Capability

	// ReplyToProvider sends a client_tool_result back to the provider.
	ReplyToProvider bool
	// ReplyToClient sends the result to the browser as a client_tool_call
	// named ClientToolName (ToolName when empty).
	ReplyToClient  bool
	ClientToolName string
}

// MatchToolCall matches client_tool_call events for toolName and checks that
// every required parameter is present.
func MatchToolCall(toolName string, required ...string) Matcher {
	return func(msg convai.Message) (Verdict, error) {
		call, ok := msg.ToolCall()
		if !ok || call.ToolName != toolName {
			return NoMatch, nil
		}
		var missing []string
		for _, key := range required {
			if _, ok := call.Parameters[key]; !ok {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return Invalid, &MissingToolParametersError{ToolName: toolName, Missing: missing}
		}
		return Matched, nil
	}
}

// HandleToolCall builds a blocking provider-to-client handler that answers a
// tool call internally. The original tool call is never forwarded.
func HandleToolCall(spec ToolCallSpec) Handler {
	clientTool := spec.ClientToolName
	if clientTool == "" {
		clientTool = spec.ToolName
	}

	return Handler{
		Name:      "tool:" + spec.ToolName,
		Direction: ProviderToClient,
		Match:     MatchToolCall(spec.ToolName, spec.Required...),
		Policy:    Blocking,
		Action: func(ctx context.Context, s *Session, msg convai.Message) (*convai.Message, error) {
			call, _ := msg.ToolCall()
			log := s.log.With("tool", spec.ToolName)

			start := time.Now()
			result, err := invokeCapability(ctx, spec, call.Parameters)
			metrics.ToolCallDuration.WithLabelValues(spec.ToolName).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.ToolCallsTotal.WithLabelValues(spec.ToolName, "error").Inc()
				s.emitToolCall(spec.ToolName, call.ToolCallID, "error", err)
				log.Error().Err(err).Str("toolCallId", call.ToolCallID).Interface("parameters", call.Parameters).Msg("tool capability failed")
				return nil, nil
			}

			corr := convai.CorrelationID(call.ToolCallID, spec.ToolName, s.NextScope())

			if spec.ReplyToProvider {
				replyID := call.ToolCallID
				if replyID == "" {
					replyID = spec.ToolName + "_" + corr
				}
				reply, err := convai.NewToolResult(replyID, result, false)
				if err != nil {
					return nil, fmt.Errorf("building tool result: %w", err)
				}
				if err := s.SendToProvider(reply); err != nil {
					log.Warn().Err(err).Msg("sending tool result to provider")
				}
			}

			if spec.ReplyToClient {
				params, err := toParameters(result)
				if err != nil {
					return nil, fmt.Errorf("encoding client tool parameters: %w", err)
				}
				out, err := convai.NewToolCall(clientTool, clientTool+"_"+corr, params)
				if err != nil {
					return nil, fmt.Errorf("building client tool call: %w", err)
				}
				if err := s.SendToClient(out); err != nil {
					log.Warn().Err(err).Msg("sending tool call to client")
				}
			}

			metrics.ToolCallsTotal.WithLabelValues(spec.ToolName, "ok").Inc()
			s.emitToolCall(spec.ToolName, call.ToolCallID, "ok", nil)
			log.Info().
				Str("toolCallId", call.ToolCallID).
				Str("correlationId", corr).
				Dur("elapsed", time.Since(start)).
				Msg("tool call handled")
			return nil, nil
		},
	}
}

func invokeCapability(ctx context.Context, spec ToolCallSpec, params map[string]any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &CapabilityError{ToolName: spec.ToolName, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if spec.Capability == nil {
		return nil, &CapabilityError{ToolName: spec.ToolName, Err: fmt.Errorf("no capability bound")}
	}
	result, err = spec.Capability(ctx, params)
	if err != nil {
		return nil, &CapabilityError{ToolName: spec.ToolName, Err: err}
	}
	return result, nil
}

// toParameters turns a capability result into a tool call parameter object.
// Results that do not encode to a JSON object are wrapped under "result".
func toParameters(result any) (map[string]any, error) {
	if m, ok := result.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"result": result}, nil
	}
	return m, nil
}
