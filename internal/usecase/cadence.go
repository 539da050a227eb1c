package usecase

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type tickerCommand int

const (
	tickerPause tickerCommand = iota
	tickerResume
	tickerStop
)

// producer drains a tap on every tick of its own ticker and hands the chunk
// to emit. Two producers run per session, one per cadence.
type producer struct {
	clock    clock.Clock
	interval time.Duration
	tap      *pcmTap
	emit     func([]byte)

	ticker *clock.Ticker
	ctrl   chan tickerCommand
	ack    chan struct{}
	done   chan struct{}

	stopOnce sync.Once
}

// newProducer creates the ticker before returning so the first interval is
// measured from the call, not from when the goroutine gets scheduled.
func newProducer(clk clock.Clock, interval time.Duration, tap *pcmTap, emit func([]byte)) *producer {
	p := &producer{
		clock:    clk,
		interval: interval,
		tap:      tap,
		emit:     emit,
		ticker:   clk.Ticker(interval),
		ctrl:     make(chan tickerCommand),
		ack:      make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *producer) run() {
	defer close(p.done)

	ticks := p.ticker.C
	for {
		select {
		case <-ticks:
			if chunk := p.tap.Drain(); len(chunk) > 0 {
				p.emit(chunk)
			}
		case cmd := <-p.ctrl:
			switch cmd {
			case tickerPause:
				if ticks != nil {
					p.ticker.Stop()
					ticks = nil
				}
			case tickerResume:
				if ticks == nil {
					p.ticker = p.clock.Ticker(p.interval)
					ticks = p.ticker.C
				}
			case tickerStop:
				p.ticker.Stop()
				return
			}
			p.ack <- struct{}{}
		}
	}
}

// control applies cmd and returns once the ticker reflects it.
func (p *producer) control(cmd tickerCommand) {
	select {
	case p.ctrl <- cmd:
	case <-p.done:
		return
	}
	if cmd == tickerStop {
		<-p.done
		return
	}
	select {
	case <-p.ack:
	case <-p.done:
	}
}

func (p *producer) pause()  { p.control(tickerPause) }
func (p *producer) resume() { p.control(tickerResume) }

func (p *producer) stop() {
	p.stopOnce.Do(func() { p.control(tickerStop) })
	<-p.done
}
