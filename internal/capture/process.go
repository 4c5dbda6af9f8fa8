package capture

import (
	stderrors "errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// Process is a handle on a capture process, either launched by us or adopted.
type Process struct {
	pid     int
	group   bool
	exited  chan struct{}
	logPath string

	mu      sync.Mutex
	waitErr error
}

func newChildProcess(cmd *exec.Cmd, logPath string) *Process {
	p := &Process{
		pid:     cmd.Process.Pid,
		group:   true,
		exited:  make(chan struct{}),
		logPath: logPath,
	}
	// Reap the child so liveness checks never see a zombie.
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.exited)
	}()
	return p
}

// Attach returns a handle for a process we did not start.
func Attach(pid int) *Process {
	pgid, err := syscall.Getpgid(pid)
	return &Process{pid: pid, group: err == nil && pgid == pid}
}

// PID returns the process id.
func (p *Process) PID() int { return p.pid }

// Done is closed when a launched process exits. It is nil for attached processes.
func (p *Process) Done() <-chan struct{} { return p.exited }

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	if p.exited != nil {
		select {
		case <-p.exited:
			return false
		default:
			return true
		}
	}
	return PIDAlive(p.pid)
}

// ExitErr returns the wait error of a launched process after it exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waitErr == nil && p.exited != nil {
		select {
		case <-p.exited:
			return stderrors.New("exited with status 0")
		default:
		}
	}
	return p.waitErr
}

// LogTail returns up to n trailing bytes of the stderr log, if one was kept.
func (p *Process) LogTail(n int) string {
	if p.logPath == "" {
		return ""
	}
	data, err := os.ReadFile(p.logPath)
	if err != nil {
		return ""
	}
	if len(data) > n {
		data = data[len(data)-n:]
	}
	return strings.TrimSpace(string(data))
}

// signal delivers sig to the process group when we lead one, else to the pid.
func (p *Process) signal(sig syscall.Signal) error {
	target := p.pid
	if p.group {
		target = -p.pid
	}
	return syscall.Kill(target, sig)
}

// PIDAlive reports whether pid exists, using signal 0.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || stderrors.Is(err, syscall.EPERM)
}
