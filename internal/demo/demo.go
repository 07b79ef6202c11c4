// Package demo builds the message routers of the public voice demos.
// Every variant relays the provider conversation verbatim and differs only in
// the handlers it registers.
package demo

import (
	"github.com/soyeahso/voicebridge/internal/convai"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/relay"
)

// Variant names, also used as metric and log labels.
const (
	Voicechat = "voicechat"
	AIBI      = "aibi"
	Landing   = "landing"
)

// base returns a router that keeps browser tool results away from the
// provider. Tool results are produced by the proxy itself.
func base(log *logging.Logger) *relay.Router {
	r := relay.NewRouter(log)
	r.Suppress(relay.ClientToProvider, relay.SuppressType(convai.ClientToolResult))
	return r
}

// VoicechatRouter builds the plain relay.
func VoicechatRouter(log *logging.Logger) *relay.Router {
	return base(log.Sub("demo.voicechat"))
}
