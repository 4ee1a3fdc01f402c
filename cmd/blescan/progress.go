package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/blescan/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// progressPrinter shows a countdown and the number of peripherals found so
// far on a single terminal line.
//
// Start may be called at most once and Stop must be called to release the
// goroutine. Stop is safe to call more than once.
type progressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration
	found    atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	group     *groutine.Group
}

func newProgressPrinter(w io.Writer, prefix string, duration time.Duration) *progressPrinter {
	return &progressPrinter{w: w, prefix: prefix, duration: duration}
}

// Found records one more discovered peripheral. Safe from any goroutine.
func (p *progressPrinter) Found() {
	p.found.Add(1)
}

// Start begins redrawing the progress line in the background
func (p *progressPrinter) Start() {
	p.startOnce.Do(func() {
		started := time.Now()
		p.group = groutine.NewGroup(context.Background())
		p.print(p.duration)

		p.group.Go("scan-progress", func(ctx context.Context) {
			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.print(p.duration - time.Since(started))
				}
			}
		})
	})
}

func (p *progressPrinter) print(remaining time.Duration) {
	// round to the nearest second, never below zero
	seconds := 0
	if remaining > 0 {
		seconds = int(remaining.Seconds() + 0.5)
	}
	fmt.Fprintf(p.w, "\r%s (%ds left, %d found)   ", p.prefix, seconds, p.found.Load())
}

// Stop ends the progress display and clears the line
func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		if p.group == nil {
			return
		}
		p.group.Stop()
		fmt.Fprint(p.w, clearLineSequence)
	})
}
