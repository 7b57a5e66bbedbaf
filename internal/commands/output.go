package commands

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"github.com/bit2swaz/storage-janitor/internal/engine"
)

var (
	prefixStyle = color.New(color.FgHiCyan, color.Bold)
	okStyle     = color.New(color.FgHiGreen, color.Bold)
	dryStyle    = color.New(color.FgHiYellow, color.Bold)
	infoStyle   = color.New(color.FgHiWhite)
	subtleStyle = color.New(color.FgHiBlack)
	warnStyle   = color.New(color.FgHiMagenta, color.Bold)
	errorStyle  = color.New(color.FgHiRed, color.Bold)
)

const (
	exitSweepFailed   = 1
	exitConfigInvalid = 2
	exitTenantsFailed = 3
)

type ExitError interface {
	error
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error {
	return e.err
}

func (e *exitError) ExitCode() int {
	return e.code
}

func newExitError(code int, err error) ExitError {
	if code == 0 {
		code = 1
	}
	return &exitError{code: code, err: err}
}

func prefix() string {
	return prefixStyle.Sprint("[Janitor]")
}

func logInfo(out io.Writer, message string) {
	fmt.Fprintf(out, "%s %s\n", prefix(), infoStyle.Sprint(message))
}

func logWarning(errOut io.Writer, message string) {
	fmt.Fprintf(errOut, "%s %s %s\n", prefix(), warnStyle.Sprint("WARN"), infoStyle.Sprint(message))
}

func logFailure(errOut io.Writer, what string, err error) {
	fmt.Fprintf(errOut, "%s %s %v\n", prefix(), errorStyle.Sprint(what), err)
}

func logSummary(out io.Writer, stats engine.SweepStats) {
	verdict := okStyle.Sprint("SWEEP DONE.")
	removed := fmt.Sprintf("Removed %d of %d eligible files", stats.FilesRemoved, stats.FilesEligible)
	if stats.DryRun {
		verdict = dryStyle.Sprint("DRY RUN.")
		removed = fmt.Sprintf("Would remove %d files", stats.FilesEligible)
	}
	if stats.Cancelled {
		verdict = warnStyle.Sprint("SWEEP CANCELLED.")
	}

	fmt.Fprintf(out, "%s %s %s %s\n",
		prefix(),
		verdict,
		infoStyle.Sprintf("%s, scanned %d across %d tenants in %s.", removed, stats.FilesScanned, stats.Tenants, humanDuration(stats.Duration)),
		subtleStyle.Sprintf("(sweep %s)", stats.ID),
	)
	if stats.TenantFailures > 0 {
		logWarning(out, fmt.Sprintf("%d tenant(s) failed; see the log for details", stats.TenantFailures))
	}
	if stats.PagesAbandoned > 0 {
		logWarning(out, fmt.Sprintf("%d listing page(s) abandoned after the server rejected the page size", stats.PagesAbandoned))
	}
}

// progressPrinter reports deletion progress on the terminal.
type progressPrinter struct {
	out   io.Writer
	total atomic.Int64
}

func (p *progressPrinter) OnProgress(delta int) {
	total := p.total.Add(int64(delta))
	fmt.Fprintf(p.out, "%s %s\n", prefix(), subtleStyle.Sprintf("removed %d files (%d so far)", delta, total))
}

func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	if d < time.Second {
		ms := d.Milliseconds()
		if ms == 0 {
			ms = 1
		}
		return fmt.Sprintf("%dms", ms)
	}

	if d < time.Minute {
		secs := float64(d) / float64(time.Second)
		return fmt.Sprintf("%.1fs", secs)
	}

	return d.Round(time.Second).String()
}

func progressObserver(p *progressPrinter) engine.ProgressObserver {
	if p == nil {
		return nil
	}
	return p
}
