package daemon

import "github.com/tjper/jobd/internal/paths"

// Options configures one daemon run. The zero value resolves every path
// from the standard XDG_* overrides via internal/paths.
type Options struct {
	SocketPath string
}

// DefaultOptions resolves Options from the environment the way
// internal/paths does for every other on-disk location.
func DefaultOptions() Options {
	return Options{SocketPath: paths.SocketPath()}
}
