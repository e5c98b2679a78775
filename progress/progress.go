// Package progress - Terminal-Fortschrittsanzeige
//
// Dieses Modul enthaelt die Progress-Hauptstruktur: eine Liste von
// State-Zeilen (Spinner oder Bar), die periodisch neu gezeichnet wird.
package progress

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"
)

// State ist eine einzelne Anzeige-Zeile
type State interface {
	String() string
}

// Progress zeichnet eine Liste von State-Zeilen periodisch neu
type Progress struct {
	mu sync.Mutex
	// buf writes everything to w when stopped
	w io.Writer

	pos int

	ticker *time.Ticker
	states []State
}

// NewProgress erstellt eine laufende Fortschrittsanzeige
func NewProgress(w io.Writer) *Progress {
	p := &Progress{w: w}
	go p.start()
	return p
}

func (p *Progress) stop() bool {
	for _, state := range p.states {
		if spinner, ok := state.(*Spinner); ok {
			spinner.Stop()
		}
	}

	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
		p.render()
		return true
	}

	return false
}

// Stop haelt die Anzeige an, der letzte Stand bleibt stehen
func (p *Progress) Stop() bool {
	stopped := p.stop()
	if stopped {
		fmt.Fprint(p.w, "\n")
	}
	return stopped
}

// StopAndClear haelt die Anzeige an und loescht alle Zeilen
func (p *Progress) StopAndClear() bool {
	fmt.Fprint(p.w, "\033[?25l")
	defer fmt.Fprint(p.w, "\033[?25h")

	stopped := p.stop()
	if stopped {
		// clear all progress lines
		for i := 0; i < p.pos; i++ {
			if i > 0 {
				fmt.Fprint(p.w, "\033[A")
			}
			fmt.Fprint(p.w, "\033[2K\033[1G")
		}
	}

	return stopped
}

// Add haengt eine neue Anzeige-Zeile an
func (p *Progress) Add(key string, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states = append(p.states, state)
}

func (p *Progress) render() {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.w, "\033[?25l")
	defer fmt.Fprint(p.w, "\033[?25h")

	// clear already rendered progress lines
	for i := 0; i < p.pos; i++ {
		if i > 0 {
			fmt.Fprint(p.w, "\033[A")
		}
		fmt.Fprint(p.w, "\033[2K\033[1G")
	}

	// render progress lines
	buf := bufio.NewWriter(p.w)
	for i, state := range p.states {
		fmt.Fprint(buf, state.String())
		if i < len(p.states)-1 {
			fmt.Fprint(buf, "\n")
		}
	}
	buf.Flush()

	p.pos = len(p.states)
}

func (p *Progress) start() {
	p.ticker = time.NewTicker(100 * time.Millisecond)
	for range p.ticker.C {
		p.render()
	}
}
