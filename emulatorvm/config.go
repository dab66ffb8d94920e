// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"errors"
	"fmt"
	"time"
)

// MaxReadLength bounds the size of a single memory read or write
const MaxReadLength = 1 << 20

var errInvalidConfig = errors.New("invalid config")

// Config of the emulator service
type Config struct {
	// MaxSnapshots bounds the snapshots kept per session, the anchor included
	MaxSnapshots int `json:"maxSnapshots"`
	// RequestTimeout bounds every RPC request. Zero disables it.
	RequestTimeout time.Duration `json:"requestTimeout"`
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		MaxSnapshots:   64,
		RequestTimeout: 5 * time.Minute,
	}
}

// Validate returns an error if [c] is unusable
func (c Config) Validate() error {
	if c.MaxSnapshots < MinSnapshots {
		return fmt.Errorf("%w: max snapshots %d below %d", errInvalidConfig, c.MaxSnapshots, MinSnapshots)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: negative request timeout %s", errInvalidConfig, c.RequestTimeout)
	}
	return nil
}
