package workerpool

// Launcher abstracts how a worker process gets started (spec.md §9
// "Process launching portability": a deployment may prefer a process
// supervisor, a container runtime, or a pre-forked pool instead of
// direct exec.Command spawning). Manager does not consult a Launcher;
// it spawns its workers through Worker.start.
type Launcher interface {
	// Launch starts a process for path/argv/env and returns its PID
	// and a function that stops it.
	Launch(path string, argv []string, env []string) (pid int, stop func() error, err error)
}

// execLauncher is the default Launcher, spawning workers directly via
// os/exec (grounded on mevdschee/tqserver's direct php-cgi exec).
// Worker.start already implements this behavior inline; execLauncher
// exists so alternate Launcher implementations have a documented
// interface to satisfy without reaching into Worker internals.
type execLauncher struct{}

// DefaultLauncher is the os/exec-backed Launcher implementation.
var DefaultLauncher Launcher = execLauncher{}

func (execLauncher) Launch(path string, argv []string, env []string) (int, func() error, error) {
	w := newWorker(0, "")
	if err := w.start(path, argv, env); err != nil {
		return 0, nil, err
	}
	stop := func() error { return w.stop(defaultStopGrace) }
	return w.PID(), stop, nil
}
