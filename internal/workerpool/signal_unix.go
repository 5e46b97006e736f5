//go:build unix

package workerpool

import "syscall"

// syscallSig0 is signal 0: sending it never actually signals the
// process, only probes whether it still exists (used by
// Worker.Alive's accurate-but-expensive liveness check).
var syscallSig0 = syscall.Signal(0)
