//go:build !windows

package adapter

import (
	"bytes"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty/v2"
)

// spawn starts command under a real PTY via creack/pty/v2.
func (l *Local) spawn(workDir, command string, args []string) (*localProc, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = workDir
	cmd.Env = defaultEnv()

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	buf := &bytes.Buffer{}
	const capBytes = 64 * 1024

	go func() {
		chunk := make([]byte, 4096)
		for {
			n, rerr := f.Read(chunk)
			if n > 0 {
				mu.Lock()
				buf.Write(chunk[:n])
				if buf.Len() > capBytes {
					trimmed := buf.Bytes()[buf.Len()-capBytes:]
					buf.Reset()
					buf.Write(trimmed)
				}
				mu.Unlock()
			}
			if rerr != nil {
				return
			}
		}
	}()

	p := &localProc{
		command:   command,
		args:      args,
		workDir:   workDir,
		pid:       cmd.Process.Pid,
		tty:       f.Name(),
		startedAt: time.Time{},
		write: func(b []byte) (int, error) {
			return f.Write(b)
		},
		tail: func(maxLines int) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			out := make([]byte, buf.Len())
			copy(out, buf.Bytes())
			return out, nil
		},
		kill: func() error {
			f.Close()
			if cmd.Process != nil {
				return cmd.Process.Kill()
			}
			return nil
		},
	}
	return p, nil
}
