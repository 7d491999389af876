package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// progressBar renders action progress on a terminal. Non-terminal output
// only gets the caption lines.
type progressBar struct {
	w       io.Writer
	enabled bool

	caption string
	total   int64
	bar     *progressbar.ProgressBar
}

func newProgressBar(f *os.File) *progressBar {
	return &progressBar{w: f, enabled: term.IsTerminal(int(f.Fd()))}
}

// SetCaption names the bar of the next action without announcing it.
func (p *progressBar) SetCaption(caption string) {
	p.caption = caption
}

// Start announces a new action named caption.
func (p *progressBar) Start(caption string) {
	p.Finish()
	p.caption = caption
	p.total = 0
	if !p.enabled {
		fmt.Fprintf(p.w, "%s...\n", caption)
	}
}

func (p *progressBar) Update(current, total int64) {
	if !p.enabled {
		return
	}
	if p.bar == nil || total != p.total {
		p.Finish()
		p.total = total
		limit := total
		if limit <= 0 {
			limit = -1
		}
		p.bar = progressbar.NewOptions64(limit,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(p.caption),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.w) }),
		)
	}
	_ = p.bar.Set64(current)
}

// Finish closes the current bar, if any.
func (p *progressBar) Finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}
