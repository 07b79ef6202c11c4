package demo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/soyeahso/voicebridge/internal/config"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/nlq"
	"github.com/soyeahso/voicebridge/internal/relay"
)

// QuestionParam is the tool parameter carrying the spoken question.
const QuestionParam = "query"

// ErrNLQUnavailable is returned by the query tool when no analytics backend
// is configured.
var ErrNLQUnavailable = errors.New("natural language queries are not configured")

// Answerer answers natural language business questions.
type Answerer interface {
	Compute(ctx context.Context, question string) (*nlq.Result, error)
}

// AIBIRouter builds the business intelligence demo: the agent's database
// tool is answered by answerer instead of the browser.
func AIBIRouter(cfg config.AIBIConfig, answerer Answerer, log *logging.Logger) *relay.Router {
	log = log.Sub("demo.aibi")
	r := base(log)

	toolName := cfg.ToolName
	if toolName == "" {
		toolName = config.DefaultAIBIToolName
	}
	required := cfg.RequiredParams
	if required == nil {
		required = []string{QuestionParam}
	}

	r.Register(relay.HandleToolCall(relay.ToolCallSpec{
		ToolName:        toolName,
		Required:        required,
		Capability:      queryCapability(answerer),
		ReplyToProvider: slices.Contains(cfg.ReplyTo, "provider"),
		ReplyToClient:   slices.Contains(cfg.ReplyTo, "client"),
		ClientToolName:  cfg.ClientToolName,
	}))
	log.Debug().Str("tool", toolName).Strs("replyTo", cfg.ReplyTo).Msg("query tool registered")
	return r
}

func queryCapability(answerer Answerer) relay.Capability {
	return func(ctx context.Context, params map[string]any) (any, error) {
		if answerer == nil {
			return nil, ErrNLQUnavailable
		}
		question, ok := params[QuestionParam].(string)
		if !ok || strings.TrimSpace(question) == "" {
			return nil, fmt.Errorf("parameter %q must be a non-empty string", QuestionParam)
		}
		return answerer.Compute(ctx, question)
	}
}
