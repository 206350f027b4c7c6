package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

type controlMode string

const (
	controlModeRun   controlMode = "run"
	controlModePause controlMode = "pause"
)

// ControlStatus describes how the raw tick loop is paced.
type ControlStatus struct {
	Mode     string        `json:"mode"`
	Interval time.Duration `json:"interval"`
}

// tickPacer releases raw ticks either on a fixed interval or one at a time
// while paused.
type tickPacer struct {
	mu       sync.RWMutex
	mode     controlMode
	interval time.Duration
	notify   chan struct{}
	step     chan struct{}
}

func newTickPacer(interval time.Duration) *tickPacer {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &tickPacer{
		mode:     controlModeRun,
		interval: interval,
		notify:   make(chan struct{}, 1),
		step:     make(chan struct{}, 1),
	}
}

// Wait blocks until the next tick is due.
func (p *tickPacer) Wait(ctx context.Context) (time.Time, error) {
	for {
		p.mu.RLock()
		mode := p.mode
		interval := p.interval
		p.mu.RUnlock()

		switch mode {
		case controlModeRun:
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return time.Time{}, ctx.Err()
			case <-timer.C:
				return time.Now(), nil
			case <-p.notify:
				timer.Stop()
				continue
			}
		case controlModePause:
			select {
			case <-ctx.Done():
				return time.Time{}, ctx.Err()
			case <-p.step:
				return time.Now(), nil
			case <-p.notify:
				continue
			}
		default:
			return time.Time{}, errors.New("unknown control mode")
		}
	}
}

func (p *tickPacer) setMode(mode controlMode) {
	p.mu.Lock()
	if p.mode == mode {
		p.mu.Unlock()
		return
	}
	p.mode = mode
	p.mu.Unlock()
	p.signal()
}

// Step pauses the pacer and releases exactly one tick.
func (p *tickPacer) Step() {
	p.setMode(controlModePause)
	select {
	case p.step <- struct{}{}:
	default:
	}
}

func (p *tickPacer) SetInterval(d time.Duration) {
	if d <= 0 {
		d = time.Microsecond
	}
	p.mu.Lock()
	if p.interval == d {
		p.mu.Unlock()
		return
	}
	p.interval = d
	p.mu.Unlock()
	p.signal()
}

func (p *tickPacer) Status() ControlStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ControlStatus{Mode: string(p.mode), Interval: p.interval}
}

func (p *tickPacer) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}
