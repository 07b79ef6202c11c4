package demo

import (
	"context"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/voicebridge/internal/animation"
	"github.com/soyeahso/voicebridge/internal/config"
	"github.com/soyeahso/voicebridge/internal/convai"
	"github.com/soyeahso/voicebridge/internal/emailfmt"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/metrics"
	"github.com/soyeahso/voicebridge/internal/relay"
)

// TriggerAnimationTool is the browser tool that plays avatar animations.
const TriggerAnimationTool = "trigger_animation"

// LandingOptions configures the landing assistant router.
type LandingOptions struct {
	ContactFormTool string
	Formatter       *emailfmt.Formatter
	Detector        *animation.Detector
	Now             func() time.Time
}

// LandingRouter builds the landing page assistant: dictated emails in the
// contact form tool are repaired before reaching the browser, and agent
// responses may trigger avatar animations.
func LandingRouter(opts LandingOptions, log *logging.Logger) *relay.Router {
	log = log.Sub("demo.landing")
	if opts.ContactFormTool == "" {
		opts.ContactFormTool = config.DefaultLandingContactFormTool
	}
	if opts.Formatter == nil {
		opts.Formatter = emailfmt.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := base(log)
	r.Register(contactFormHandler(opts.ContactFormTool, opts.Formatter))
	if opts.Detector != nil {
		r.Register(animationHandler(opts.Detector, opts.Now))
	}
	return r
}

func contactFormHandler(tool string, f *emailfmt.Formatter) relay.Handler {
	return relay.Handler{
		Name:      "tool:" + tool,
		Direction: relay.ProviderToClient,
		Match:     relay.MatchToolCall(tool),
		Policy:    relay.Blocking,
		Action: func(ctx context.Context, s *relay.Session, msg convai.Message) (*convai.Message, error) {
			call, _ := msg.ToolCall()
			email, ok := call.Parameters["email"].(string)
			if !ok || email == "" {
				return &msg, nil
			}
			formatted := f.Format(email)
			if formatted == email {
				return &msg, nil
			}

			params := maps.Clone(call.Parameters)
			params["email"] = formatted
			out, err := msg.WithToolCallParameters(params)
			if err != nil {
				s.Logger().Warn().Err(err).Str("tool", tool).Msg("forwarding contact form unchanged")
				return &msg, nil
			}
			metrics.ToolCallsTotal.WithLabelValues(tool, "rewritten").Inc()
			s.Logger().Info().Str("tool", tool).Str("email", formatted).Msg("email formatted")
			return &out, nil
		},
	}
}

func animationHandler(d *animation.Detector, now func() time.Time) relay.Handler {
	return relay.Handler{
		Name:      "animation",
		Direction: relay.ProviderToClient,
		Match:     relay.TypeIs(convai.AgentResponse),
		Policy:    relay.FireAndForget,
		Action: func(ctx context.Context, s *relay.Session, msg convai.Message) (*convai.Message, error) {
			text, ok := msg.AgentResponseText()
			if !ok {
				return nil, nil
			}
			m, ok := d.Detect(text)
			if !ok {
				return nil, nil
			}

			seed := "animation_" + string(m.Animation) + "_" + s.ID() + "_" + now().Format(time.RFC3339Nano)
			id := TriggerAnimationTool + "_" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
			call, err := convai.NewToolCall(TriggerAnimationTool, id, m.Parameters())
			if err != nil {
				return nil, err
			}
			if err := s.SendToClient(call); err != nil {
				return nil, err
			}
			metrics.ToolCallsTotal.WithLabelValues(TriggerAnimationTool, "ok").Inc()
			s.Logger().Info().Str("trigger", m.Trigger).Str("animation", string(m.Animation)).Msg("animation triggered")
			return nil, nil
		},
	}
}
