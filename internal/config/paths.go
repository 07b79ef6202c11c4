package config

import (
	"os"
	"path/filepath"
)

const defaultBaseDir = ".voicebridge"

// Paths locates the config file, the audit and demo databases, and log files.
type Paths struct {
	Base   string // ~/.voicebridge
	Config string // ~/.voicebridge/config.yaml
	Data   string // ~/.voicebridge/data
	Logs   string // ~/.voicebridge/logs
}

// ResolvePaths roots all paths at VOICEBRIDGE_HOME, or ~/.voicebridge.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("VOICEBRIDGE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
		Logs:   filepath.Join(base, "logs"),
	}, nil
}

// EnsureDirs creates the base, data and log directories, owner-only.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// StoreDB is the default location of the session audit database.
func (p Paths) StoreDB() string {
	return filepath.Join(p.Data, "voicebridge.db")
}

// DemoDB is the default location of the sample analytics database.
func (p Paths) DemoDB() string {
	return filepath.Join(p.Data, "aibi-demo.db")
}
