// Package progressbar implements functionality of printing a progress
// bar to the terminal window
package progressbar

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ManualProgressBar implement progress bar functionality that must
// be manually managed. That is, the Display() function must be called
// whenever an updated progress bar should be printed.
//
// ManualProgressBar does not use concurrency.
type ManualProgressBar struct {
	out             io.Writer
	label           string
	width           float64
	maxProgress     float64
	currentProgress float64
	bar             strings.Builder
	startTime       time.Time
}

// NewManualProgressBar returns a new ManualProgressBar printing to out
// which is width characters wide and reaches 100% after max
// increments
func NewManualProgressBar(out io.Writer, label string, width,
	max int) *ManualProgressBar {
	if max < 1 {
		max = 1
	}
	return &ManualProgressBar{
		out:         out,
		label:       label,
		width:       float64(width),
		maxProgress: float64(max),
		startTime:   time.Now(),
	}
}

// Increment increments the interal progress counter. Each time an
// iteration is performed, Increment should be called.
func (p *ManualProgressBar) Increment() {
	if p.currentProgress < p.maxProgress {
		p.currentProgress++
	}
}

// Progress returns the fraction of the bar that is complete
func (p *ManualProgressBar) Progress() float64 {
	return p.currentProgress / p.maxProgress
}

// String returns the current bar without terminal control codes
func (p *ManualProgressBar) String() string {
	p.bar.Reset()
	if p.label != "" {
		p.bar.WriteString(p.label + " ")
	}
	p.bar.WriteString("|")

	currentProg := p.Progress() * p.width
	for i := 0.0; i < currentProg; i++ {
		p.bar.WriteString("█")
	}
	for i := currentProg; i < p.width; i++ {
		p.bar.WriteString(" ")
	}
	fmt.Fprintf(&p.bar, "| [%.2f%% | elapsed: %v]", p.Progress()*100,
		time.Since(p.startTime).Truncate(time.Second))
	return p.bar.String()
}

// Display redraws the progress bar in place
func (p *ManualProgressBar) Display() {
	fmt.Fprintf(p.out, "\n\033[1A\033[K%v", p.String())
}

// Finish fills the bar, redraws it and ends its line
func (p *ManualProgressBar) Finish() {
	p.currentProgress = p.maxProgress
	p.Display()
	fmt.Fprintln(p.out)
}
