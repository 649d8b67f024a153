package term

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// Proc is the narrow capability contract the multiplexer requires from a
// backing shell process: raw byte streams in and out, terminal sizing,
// and termination. The multiplexer assumes nothing else about the
// implementation.
type Proc interface {
	// Read blocks for the next chunk of process output; any error means
	// the process is gone.
	Read(p []byte) (int, error)
	// Write forwards input bytes to the process, uninterpreted.
	Write(p []byte) (int, error)
	// Resize changes the terminal dimensions.
	Resize(cols, rows uint16) error
	// Kill terminates the process and releases its terminal.
	Kill() error
	// Wait blocks until the process has exited.
	Wait() error
}

// Spawner creates backing shell processes.
type Spawner interface {
	Spawn(shell string, cols, rows uint16) (Proc, error)
}

// envAllowList names the only parent environment variables a spawned
// shell may inherit. Everything else, including any secret the server
// process was started with, is withheld.
var envAllowList = []string{"PATH", "HOME", "LANG", "USER"}

// PTYSpawner spawns real shells on OS pseudo-terminals.
type PTYSpawner struct{}

// NewPTYSpawner creates the production spawner.
func NewPTYSpawner() *PTYSpawner {
	return &PTYSpawner{}
}

// Spawn starts shell on a PTY sized to (cols, rows) with a minimal,
// allow-listed environment.
func (s *PTYSpawner) Spawn(shell string, cols, rows uint16) (Proc, error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}

	cmd := exec.Command(shell)
	cmd.Env = buildEnv()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: rows,
		Cols: cols,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	return &ptyProc{cmd: cmd, ptmx: ptmx}, nil
}

func buildEnv() []string {
	env := []string{"TERM=xterm-256color"}
	for _, key := range envAllowList {
		if value, ok := os.LookupEnv(key); ok {
			env = append(env, fmt.Sprintf("%s=%s", key, value))
		}
	}
	return env
}

type ptyProc struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

func (p *ptyProc) Read(buf []byte) (int, error) {
	return p.ptmx.Read(buf)
}

func (p *ptyProc) Write(buf []byte) (int, error) {
	return p.ptmx.Write(buf)
}

func (p *ptyProc) Resize(cols, rows uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (p *ptyProc) Kill() error {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return p.ptmx.Close()
}

func (p *ptyProc) Wait() error {
	err := p.cmd.Wait()
	p.ptmx.Close()
	return err
}
