package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	u "awmp-pdf/internal/utils"
)

// networkIdleQuiet is how long the page must stay quiet under the network-idle wait policy.
const networkIdleQuiet = 500 * time.Millisecond

// Launcher starts a fresh rendering engine for one request.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is a launched browser plus the page it renders into. A Session is
// owned by a single request and must be closed before that request completes.
type Session interface {
	Render(ctx context.Context, html string) ([]byte, error)
	Close() error
}

// ChromiumLauncher launches one headless Chromium process per call.
type ChromiumLauncher struct {
	opts Options
}

// NewChromiumLauncher returns a launcher using opts. A nil Filter defaults to AllowInlineOnly.
func NewChromiumLauncher(opts Options) *ChromiumLauncher {
	if opts.Filter == nil {
		opts.Filter = AllowInlineOnly
	}
	if opts.WaitUntil == "" {
		opts.WaitUntil = u.WaitDOMContentLoaded
	}
	return &ChromiumLauncher{opts: opts}
}

// Launch starts Chromium with a throwaway profile and opens its first page.
// On failure everything allocated so far is released before returning.
func (l *ChromiumLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profileDir, err := createProfileDir(l.opts.UserDataDir)
	if err != nil {
		return nil, fmt.Errorf("cannot create temp profile dir: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(profileDir)...)
	pageCtx, pageCancel := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so launch errors surface here and not mid-render.
	if err := chromedp.Run(pageCtx); err != nil {
		pageCancel()
		allocCancel()
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	return &chromiumSession{
		opts:        l.opts,
		ctx:         pageCtx,
		cancel:      pageCancel,
		allocCancel: allocCancel,
		profileDir:  profileDir,
	}, nil
}

func (l *ChromiumLauncher) allocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	options := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	options = append(options,
		chromedp.UserDataDir(profileDir),
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("font-render-hinting", "medium"),
	)
	if l.opts.NoSandbox {
		options = append(options,
			chromedp.NoSandbox,
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	// Hosts that forbid spawning renderer subprocesses.
	if l.opts.SingleProcess {
		options = append(options,
			chromedp.Flag("single-process", true),
			chromedp.Flag("no-zygote", true),
		)
	}
	if l.opts.ExecPath != "" {
		options = append(options, chromedp.ExecPath(l.opts.ExecPath))
	}
	return options
}

type chromiumSession struct {
	opts        Options
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	profileDir  string

	blocked atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// Render loads html into the page with outbound requests restricted by the
// session filter and prints it to PDF.
func (s *chromiumSession) Render(ctx context.Context, html string) ([]byte, error) {
	execCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if s.opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		execCtx, cancelTimeout = context.WithTimeout(execCtx, s.opts.Timeout)
		defer cancelTimeout()
	}

	s.interceptRequests(s.ctx)

	var pdf []byte
	if err := chromedp.Run(execCtx, s.renderActions(html, &pdf)...); err != nil {
		return nil, err
	}
	if n := s.blocked.Load(); n > 0 {
		u.Info("Blocked outbound requests during render", "count", n)
	}
	return pdf, nil
}

// renderActions is the page pipeline for one render. The PDF bytes are
// written to out by the final action.
func (s *chromiumSession) renderActions(html string, out *[]byte) []chromedp.Action {
	var actions []chromedp.Action
	// Fetch interception does not see WebSocket handshakes; with scripts off
	// nothing in the document can open one.
	if s.opts.DisableScripts {
		actions = append(actions, emulation.SetScriptExecutionDisabled(true))
	}
	return append(actions,
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*"}}),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		s.waitAction(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			*out, _, err = s.opts.Print.Params().Do(ctx)
			return err
		}),
	)
}

func (s *chromiumSession) waitAction() chromedp.Action {
	if s.opts.WaitUntil == u.WaitNetworkIdle {
		return chromedp.ActionFunc(func(ctx context.Context) error {
			return waitForRenderReady(ctx, networkIdleQuiet)
		})
	}
	return chromedp.WaitReady("body", chromedp.ByQuery)
}

// interceptRequests answers every paused request with the filter's decision.
func (s *chromiumSession) interceptRequests(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		action, allowed := interceptDecision(s.opts.Filter, paused)
		if !allowed {
			s.blocked.Add(1)
			u.Debug("Aborted outbound request", "url", requestURL(paused))
		}
		// Listener callbacks must not block; answer from a goroutine.
		go func() {
			c := chromedp.FromContext(ctx)
			if c == nil || c.Target == nil {
				return
			}
			if err := action.Do(cdp.WithExecutor(ctx, c.Target)); err != nil {
				u.Debug("Request interception reply failed", "error", err)
			}
		}()
	})
}

// Close shuts the browser down and removes its profile. Safe to call more than once.
func (s *chromiumSession) Close() error {
	s.closeOnce.Do(func() {
		err := chromedp.Cancel(s.ctx)
		s.cancel()
		s.allocCancel()
		if rmErr := os.RemoveAll(s.profileDir); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
		s.closeErr = err
	})
	return s.closeErr
}

// waitForRenderReady waits for document.readyState to reach "complete" and
// then for a quiet period in which late resources may settle.
func waitForRenderReady(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var state string
		if err := chromedp.Evaluate(`document.readyState`, &state).Do(ctx); err != nil {
			return err
		}
		if state == "complete" {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	timer := time.NewTimer(quiet)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
