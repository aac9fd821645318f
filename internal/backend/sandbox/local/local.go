// Package local implements the Backend Protocol's sandboxed-shell variant
// using a plain local process (os/exec) as the sandbox: file operations are
// delegated to the same host-filesystem logic as internal/backend/hostbackend,
// and Execute runs commands directly via "sh -c" with a deny-pattern gate and
// a per-command timeout. Grounded on internal/tools/shell.go's ExecTool
// (defaultDenyPatterns, executeOnHost's timeout-to-exit-124 handling).
package local

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"

	"github.com/nextlevelbuilder/deepagent/internal/backend"
	"github.com/nextlevelbuilder/deepagent/internal/backend/hostbackend"
)

// DefaultDenyPatterns is the regex deny-list gating Execute, carried
// verbatim in spirit from internal/tools/shell.go's defaultDenyPatterns:
// destructive file ops, exfiltration, reverse shells, privilege escalation,
// container escape, and known filter-bypass patterns. This is an optional
// hardening layer the reference sandbox provider installs by default; it is
// not mandated by the abstract sandbox protocol (§4.A), which only requires
// Execute/UploadFiles/DownloadFiles from a concrete provider.
var DefaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`/dev/tcp/`),
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsocat\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bnsenter\b|\bunshare\b`),
	regexp.MustCompile(`/var/run/docker\.sock|docker\.(sock|socket)`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bcrontab\b`),
	regexp.MustCompile(`\b(killall|pkill)\b`),
}

// Backend is a sandboxed-shell provider whose file operations reuse the
// host-filesystem backend and whose Execute runs on the local machine.
type Backend struct {
	*hostbackend.Backend
	Timeout      time.Duration
	DenyPatterns []*regexp.Regexp
	id           string
}

// New constructs a local sandbox rooted at workdir. id is the stable
// sandbox identifier the SandboxProvider.GetOrCreate contract requires.
func New(id, workdir string, restrict bool) *Backend {
	return &Backend{
		Backend:      hostbackend.New(workdir, restrict),
		Timeout:      60 * time.Second,
		DenyPatterns: DefaultDenyPatterns,
		id:           id,
	}
}

func (b *Backend) ID() string { return b.id }

func (b *Backend) Capabilities() backend.Capabilities {
	caps := b.Backend.Capabilities()
	caps.Execute = true
	return caps
}

func (b *Backend) Execute(ctx context.Context, command string) (*backend.ExecResult, error) {
	for _, pattern := range b.DenyPatterns {
		if pattern.MatchString(command) {
			return nil, fmt.Errorf("command denied by safety policy: matches pattern %s", pattern.String())
		}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, "sh", "-c", command)
	cmd.Dir = b.Root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + stderr.String()
	}

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return &backend.ExecResult{
			Output:   fmt.Sprintf("command timed out after %s", b.Timeout),
			ExitCode: 124,
		}, nil
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	return &backend.ExecResult{Output: output, ExitCode: exitCode}, nil
}
