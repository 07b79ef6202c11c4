package main

import (
	"os"

	"github.com/soyeahso/voicebridge/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// Development convenience: re-exec when the binary is rebuilt.
	if os.Getenv("VOICEBRIDGE_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		os.Stderr.WriteString("voicebridge: " + err.Error() + "\n")
		os.Exit(1)
	}
}
