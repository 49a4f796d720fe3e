// Package config loads the optional serve configuration file. Flags
// always win over file values; the file just keeps per-project
// defaults out of shell history.
package config

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// DefaultFileName is looked up in the project directory when no
// --config flag is given.
const DefaultFileName = "grove.hcl"

// Serve holds the tunables of the serve command.
type Serve struct {
	Address       string `hcl:"address,optional"`
	Port          int    `hcl:"port,optional"`
	DebounceMS    int    `hcl:"debounce_ms,optional"`
	RetryAttempts int    `hcl:"retry_attempts,optional"`
	QueueWindow   int    `hcl:"queue_window,optional"`
}

// File is the root of a grove.hcl document.
type File struct {
	Serve *Serve `hcl:"serve,block"`
}

// Load parses the configuration file at path. A missing file is not
// an error; it yields an empty configuration.
func Load(path string) (*File, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &File{}, nil
	}
	var out File
	if err := hclsimple.DecodeFile(path, nil, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &out, nil
}
