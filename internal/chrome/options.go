package chrome

import (
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"

	u "awmp-pdf/internal/utils"
)

// PrintOptions are the page.printToPDF parameters, lengths in inches.
type PrintOptions struct {
	PaperWidth        float64
	PaperHeight       float64
	MarginTop         float64
	MarginRight       float64
	MarginBottom      float64
	MarginLeft        float64
	PrintBackground   bool
	PreferCSSPageSize bool
}

// Params builds the DevTools command for these options.
func (p PrintOptions) Params() *page.PrintToPDFParams {
	return page.PrintToPDF().
		WithPaperWidth(p.PaperWidth).
		WithPaperHeight(p.PaperHeight).
		WithMarginTop(p.MarginTop).
		WithMarginRight(p.MarginRight).
		WithMarginBottom(p.MarginBottom).
		WithMarginLeft(p.MarginLeft).
		WithPrintBackground(p.PrintBackground).
		WithPreferCSSPageSize(p.PreferCSSPageSize)
}

// Fingerprint is a stable textual form used in cache keys.
func (p PrintOptions) Fingerprint() string {
	return fmt.Sprintf("%.4fx%.4f|%.4f,%.4f,%.4f,%.4f|bg=%t|css=%t",
		p.PaperWidth, p.PaperHeight,
		p.MarginTop, p.MarginRight, p.MarginBottom, p.MarginLeft,
		p.PrintBackground, p.PreferCSSPageSize)
}

// Options configures ChromiumLauncher and the sessions it creates.
type Options struct {
	ExecPath      string
	NoSandbox     bool
	SingleProcess bool
	// UserDataDir is the parent of per-launch profile directories; empty means os.TempDir.
	UserDataDir string
	// Timeout bounds a single render; zero disables it.
	Timeout   time.Duration
	WaitUntil string
	// DisableScripts turns off JavaScript in the page before the document is set.
	DisableScripts bool
	Print          PrintOptions
	Filter         RequestFilter
}

// OptionsFromConfig derives engine options from the service configuration.
func OptionsFromConfig(cfg u.Config) (Options, error) {
	paper, ok := cfg.Paper()
	if !ok {
		return Options{}, fmt.Errorf("paper size %q not configured", cfg.PDF.DefaultPaper)
	}

	var margins [4]float64
	for i, v := range []string{cfg.PDF.Margins.Top, cfg.PDF.Margins.Right, cfg.PDF.Margins.Bottom, cfg.PDF.Margins.Left} {
		in, err := u.ParseLengthInches(v)
		if err != nil {
			return Options{}, fmt.Errorf("margin: %w", err)
		}
		margins[i] = in
	}

	return Options{
		ExecPath:       cfg.PDF.ChromePath,
		NoSandbox:      cfg.PDF.ChromeNoSandbox,
		SingleProcess:  cfg.PDF.SingleProcess,
		UserDataDir:    cfg.PDF.UserDataDir,
		Timeout:        time.Duration(cfg.PDF.TimeoutSecs) * time.Second,
		WaitUntil:      cfg.PDF.WaitUntil,
		DisableScripts: cfg.PDF.DisableScripts,
		Print: PrintOptions{
			PaperWidth:        paper.Width,
			PaperHeight:       paper.Height,
			MarginTop:         margins[0],
			MarginRight:       margins[1],
			MarginBottom:      margins[2],
			MarginLeft:        margins[3],
			PrintBackground:   true,
			PreferCSSPageSize: true,
		},
		Filter: AllowInlineOnly,
	}, nil
}
