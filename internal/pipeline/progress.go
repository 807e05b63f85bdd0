package pipeline

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Progress reports per-file advancement of one category.
type Progress interface {
	Start(category string, total int)
	Advance(done, total int)
	Finish()
}

// NewProgress draws a bar on f when it is a terminal and prints
// "i/N files processed." lines otherwise.
func NewProgress(f *os.File) Progress {
	if term.IsTerminal(int(f.Fd())) {
		return &barProgress{w: f}
	}
	return &LineProgress{W: f}
}

// LineProgress writes one line per processed file.
type LineProgress struct {
	W io.Writer
}

func (p *LineProgress) Start(string, int) {}

func (p *LineProgress) Advance(done, total int) {
	fmt.Fprintf(p.W, "%d/%d files processed.\n", done, total)
}

func (p *LineProgress) Finish() {}

type barProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (p *barProgress) Start(category string, total int) {
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(category+" files"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (p *barProgress) Advance(done, _ int) {
	if p.bar != nil {
		_ = p.bar.Set(done)
	}
}

func (p *barProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

type nopProgress struct{}

func (nopProgress) Start(string, int) {}
func (nopProgress) Advance(int, int)  {}
func (nopProgress) Finish()           {}
