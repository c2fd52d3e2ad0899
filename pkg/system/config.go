package system

import (
	"errors"

	"github.com/backkem/wasmkernel/pkg/loader"
	"github.com/backkem/wasmkernel/pkg/vm"
	"github.com/pion/logging"
)

// ErrEngineRequired is returned by Validate when no Engine is configured.
var ErrEngineRequired = errors.New("system: Engine is required")

// Config configures a System.
type Config struct {
	// Engine is the WebAssembly execution engine the System drives.
	// Required.
	Engine vm.Engine

	// Sources resolve module hashes for the reserved "loader" interface,
	// tried in order. May be left empty if no process will load another
	// module at runtime.
	Sources []loader.Source

	// RunSelfTest starts native.EchoInterface alongside the built-in
	// programs, exercising the Facade's Register interception without a
	// real WebAssembly process.
	RunSelfTest bool

	// LoggerFactory is the factory for creating loggers. If nil, logging
	// is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Engine == nil {
		return ErrEngineRequired
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {}
