package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a single-line progress message with elapsed
// time, updated in place. Single-use: Start at most once, Stop exactly
// once (extra Stops are harmless).
type ProgressPrinter struct {
	prefix    string
	phase     atomic.Value // string
	startTime time.Time
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a printer that shows "<prefix> (<phase> Ns)"
// and counts up from Start.
func NewProgressPrinter(prefix, phase string) *ProgressPrinter {
	p := &ProgressPrinter{
		prefix:   prefix,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// SetPhase swaps the displayed phase. Safe from any goroutine.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Start begins updating the progress line in a background goroutine.
func (p *ProgressPrinter) Start() {
	p.startTime = time.Now()
	fmt.Printf("\r%s (%s...)   ", p.prefix, p.phase.Load().(string))

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				elapsed := int(time.Since(p.startTime).Seconds())
				if elapsed > 0 {
					fmt.Printf("\r%s (%s %ds)   ", p.prefix, p.phase.Load().(string), elapsed)
				} else {
					fmt.Printf("\r%s (%s...)   ", p.prefix, p.phase.Load().(string))
				}
			}
		}
	}()
}

// Stop halts the updates, waits for the goroutine and clears the line.
// Safe to call multiple times and from multiple goroutines.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		<-p.done
		fmt.Print(clearLineSequence)
	})
}
