// Package rod implements a sandboxed-shell backend variant that drives a
// headless browser via go-rod instead of a local shell: Execute interprets
// its command argument as a small line-oriented browser-control language
// (goto/click/eval/html/screenshot) rather than POSIX shell, demonstrating
// that the sandbox protocol (§4.A, internal/backend/sandbox.SandboxBackend)
// is provider-agnostic. File operations are served from an in-memory
// snapshot (internal/backend/statebackend) since a browser sandbox has no
// backing filesystem of its own worth exposing.
package rod

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nextlevelbuilder/deepagent/internal/backend"
	"github.com/nextlevelbuilder/deepagent/internal/backend/statebackend"
	"github.com/nextlevelbuilder/deepagent/internal/state"
)

// Backend is a go-rod-backed sandbox: Execute commands control a single
// headless page, while the six file operations are delegated to an
// embedded state-checkpointed backend (scratch space for a sub-agent
// doing browser automation to stash extracted content).
type Backend struct {
	*statebackend.Backend
	id      string
	browser *rod.Browser
	page    *rod.Page
	timeout time.Duration
}

// New launches (or attaches to, if controlURL is set) a headless browser
// and opens a blank page. Call Close when the sandbox is torn down.
func New(id, controlURL string, files state.Files) (*Backend, error) {
	browser := rod.New()
	if controlURL != "" {
		browser = browser.ControlURL(controlURL)
	}
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &Backend{
		Backend: statebackend.New(files),
		id:      id,
		browser: browser,
		page:    page,
		timeout: 30 * time.Second,
	}, nil
}

func (b *Backend) ID() string { return b.id }

func (b *Backend) Close() error {
	return b.browser.Close()
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Execute: true}
}

// Execute interprets command as one browser-control instruction per the
// "<verb> <argument>" convention documented on the package. Unknown verbs
// are rejected rather than silently ignored, since there is no shell to
// fall back to.
func (b *Backend) Execute(ctx context.Context, command string) (*backend.ExecResult, error) {
	page := b.page.Context(timeoutCtx(ctx, b.timeout))
	verb, arg, _ := strings.Cut(strings.TrimSpace(command), " ")

	switch verb {
	case "goto":
		if err := page.Navigate(arg); err != nil {
			return &backend.ExecResult{Output: err.Error(), ExitCode: 1}, nil
		}
		if err := page.WaitLoad(); err != nil {
			return &backend.ExecResult{Output: err.Error(), ExitCode: 1}, nil
		}
		return &backend.ExecResult{Output: fmt.Sprintf("navigated to %s", arg)}, nil

	case "html":
		html, err := page.HTML()
		if err != nil {
			return &backend.ExecResult{Output: err.Error(), ExitCode: 1}, nil
		}
		return &backend.ExecResult{Output: html}, nil

	case "eval":
		res, err := page.Eval(arg)
		if err != nil {
			return &backend.ExecResult{Output: err.Error(), ExitCode: 1}, nil
		}
		return &backend.ExecResult{Output: res.Value.String()}, nil

	case "click":
		el, err := page.Element(arg)
		if err != nil {
			return &backend.ExecResult{Output: err.Error(), ExitCode: 1}, nil
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return &backend.ExecResult{Output: err.Error(), ExitCode: 1}, nil
		}
		return &backend.ExecResult{Output: fmt.Sprintf("clicked %s", arg)}, nil

	case "screenshot":
		png, err := page.Screenshot(true, nil)
		if err != nil {
			return &backend.ExecResult{Output: err.Error(), ExitCode: 1}, nil
		}
		return &backend.ExecResult{Output: base64.StdEncoding.EncodeToString(png)}, nil

	default:
		return &backend.ExecResult{
			Output:   fmt.Sprintf("unrecognized browser command %q (expected goto|html|eval|click|screenshot)", verb),
			ExitCode: 1,
		}, nil
	}
}

func timeoutCtx(ctx context.Context, d time.Duration) context.Context {
	c, _ := context.WithTimeout(ctx, d) //nolint:lostcancel // page.Context holds the derived context for its lifetime
	return c
}
