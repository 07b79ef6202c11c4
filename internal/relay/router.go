package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/voicebridge/internal/convai"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/metrics"
)

// Direction names the leg a message arrived on.
type Direction int

const (
	ClientToProvider Direction = iota
	ProviderToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToProvider:
		return "client_to_provider"
	case ProviderToClient:
		return "provider_to_client"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Verdict is the outcome of matching a handler against a message.
type Verdict int

const (
	NoMatch Verdict = iota
	Matched
	// Invalid means the message was addressed to the handler but cannot be
	// handled, e.g. a tool call without its required parameters.
	Invalid
)

// Matcher decides whether a handler applies to a message. An Invalid verdict
// carries the reason as its error.
type Matcher func(msg convai.Message) (Verdict, error)

// Policy selects whether the router waits for a handler.
type Policy int

const (
	// FireAndForget handlers run in their own goroutine; their result is ignored.
	FireAndForget Policy = iota
	// Blocking handlers are awaited. A non-nil returned message is forwarded
	// in place of the original; nil or an error suppresses forwarding.
	Blocking
)

// Action reacts to a matched message.
type Action func(ctx context.Context, s *Session, msg convai.Message) (*convai.Message, error)

// Handler binds an action to messages travelling in one direction.
type Handler struct {
	Name      string
	Direction Direction
	Match     Matcher
	Action    Action
	Policy    Policy
}

// Predicate reports whether a message must not be forwarded verbatim.
type Predicate func(msg convai.Message) bool

// Router holds the handlers and suppression predicates of one session
// variant. It is built once and then only read.
type Router struct {
	handlers []Handler
	filters  map[Direction][]Predicate
	log      *logging.Logger
}

// NewRouter creates an empty router.
func NewRouter(log *logging.Logger) *Router {
	return &Router{
		filters: make(map[Direction][]Predicate),
		log:     log.Sub("router"),
	}
}

// Register appends a handler. Handlers are evaluated in registration order
// and the first matching Blocking handler is the only one awaited.
func (r *Router) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

// Suppress adds a suppression predicate for a direction. Predicates are ORed.
func (r *Router) Suppress(dir Direction, p Predicate) {
	r.filters[dir] = append(r.filters[dir], p)
}

// Handlers returns the registered handlers in evaluation order.
func (r *Router) Handlers() []Handler {
	out := make([]Handler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

// Route decides what, if anything, is forwarded for msg. Handler failures
// never escape; they are logged and treated as a suppressed message.
func (r *Router) Route(ctx context.Context, s *Session, dir Direction, msg convai.Message) (convai.Message, bool) {
	var (
		blocking    bool
		replacement *convai.Message
		invalid     bool
	)

	for _, h := range r.handlers {
		if h.Direction != dir {
			continue
		}

		verdict, err := r.match(h, msg)
		switch verdict {
		case NoMatch:
			continue
		case Invalid:
			invalid = true
			r.reportInvalid(s, h, msg, err)
			continue
		}

		if h.Policy == FireAndForget {
			s.spawn(func() {
				if _, err := r.run(ctx, s, h, msg); err != nil {
					r.log.Warn().Err(err).Str("handler", h.Name).Str("clientId", s.ID()).Msg("handler failed")
				}
			})
			continue
		}

		if blocking {
			r.log.Debug().Str("handler", h.Name).Str("type", string(msg.Type)).Msg("blocking handler already ran for message, skipping")
			continue
		}
		blocking = true

		out, err := r.run(ctx, s, h, msg)
		if err != nil {
			r.log.Warn().Err(err).Str("handler", h.Name).Str("clientId", s.ID()).Msg("handler failed")
			continue
		}
		replacement = out
	}

	if blocking {
		if replacement == nil {
			return convai.Message{}, false
		}
		return *replacement, true
	}
	if invalid || r.suppressed(dir, msg) {
		return convai.Message{}, false
	}
	return msg, true
}

// match evaluates a matcher, treating a panic as no match.
func (r *Router) match(h Handler, msg convai.Message) (v Verdict, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn().Interface("panic", p).Str("handler", h.Name).Msg("matcher panicked")
			v, err = NoMatch, nil
		}
	}()
	if h.Match == nil {
		return NoMatch, nil
	}
	return h.Match(msg)
}

func (r *Router) run(ctx context.Context, s *Session, h Handler, msg convai.Message) (out *convai.Message, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, &UnexpectedError{Where: "handler " + h.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	return h.Action(ctx, s, msg)
}

func (r *Router) suppressed(dir Direction, msg convai.Message) bool {
	for _, p := range r.filters[dir] {
		if safePredicate(p, msg) {
			return true
		}
	}
	return false
}

func safePredicate(p Predicate, msg convai.Message) (hit bool) {
	defer func() {
		if recover() != nil {
			hit = false
		}
	}()
	return p(msg)
}

func (r *Router) reportInvalid(s *Session, h Handler, msg convai.Message, err error) {
	ev := r.log.Warn().Err(err).Str("handler", h.Name).Str("clientId", s.ID()).Str("type", string(msg.Type))

	var missing *MissingToolParametersError
	if errors.As(err, &missing) {
		metrics.ToolCallsTotal.WithLabelValues(missing.ToolName, "invalid").Inc()
		s.emitToolCall(missing.ToolName, "", "invalid", err)
		ev = ev.Strs("missing", missing.Missing)
	}
	ev.Msg("message rejected by handler")
}

// TypeIs matches messages of the given type.
func TypeIs(t convai.EventType) Matcher {
	return func(msg convai.Message) (Verdict, error) {
		if msg.Type == t {
			return Matched, nil
		}
		return NoMatch, nil
	}
}

// SuppressType is a predicate withholding every message of type t.
func SuppressType(t convai.EventType) Predicate {
	return func(msg convai.Message) bool {
		return msg.Type == t
	}
}
