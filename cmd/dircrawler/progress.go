package main

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
)

// progress is a stderr spinner; a nil progress ignores every call.
type progress struct {
	s *spinner.Spinner
}

func newProgress(enabled bool, label string) *progress {
	if !enabled {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + label
	s.Start()
	return &progress{s: s}
}

func (p *progress) update(format string, args ...any) {
	if p == nil {
		return
	}
	p.s.Lock()
	p.s.Suffix = " " + fmt.Sprintf(format, args...)
	p.s.Unlock()
}

func (p *progress) stop(final string) {
	if p == nil {
		return
	}
	p.s.FinalMSG = final + "\n"
	p.s.Stop()
}
