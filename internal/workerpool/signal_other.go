//go:build !unix

package workerpool

import "os"

// On non-unix platforms there is no signal-0 existence probe; callers
// fall back to the cheap state-based liveness check.
var syscallSig0 os.Signal = nil
