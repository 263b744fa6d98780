//go:build windows

package adapter

import (
	"bytes"
	"sync"
	"time"

	"github.com/UserExistsError/conpty"
)

// spawn starts command under a Windows ConPTY session via UserExistsError/conpty.
func (l *Local) spawn(workDir, command string, args []string) (*localProc, error) {
	cmdline := command
	for _, a := range args {
		cmdline += " " + a
	}

	cpty, err := conpty.Start(cmdline, conpty.ConPtyWorkDir(workDir), conpty.ConPtyEnv(defaultEnv()))
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	buf := &bytes.Buffer{}
	const capBytes = 64 * 1024

	go func() {
		chunk := make([]byte, 4096)
		for {
			n, rerr := cpty.Read(chunk)
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
		pid:       cpty.Pid(),
		tty:       "",
		startedAt: time.Time{},
		write: func(b []byte) (int, error) {
			return cpty.Write(b)
		},
		tail: func(maxLines int) ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			out := make([]byte, buf.Len())
			copy(out, buf.Bytes())
			return out, nil
		},
		kill: func() error {
			return cpty.Close()
		},
	}
	return p, nil
}
