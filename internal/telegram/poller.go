// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/magpie-cloud/magpie/internal/shutdown"
)

const (
	// pollTimeout is the long-poll window passed to getUpdates.
	pollTimeout = 10 * time.Second
	// pollRetryDelay spaces retries after a failed poll.
	pollRetryDelay = 5 * time.Second
)

const helpText = "Available commands:\n/stats - show hunt statistics\n/help - show this help"

// StatsReporter renders the current statistics for operators.
type StatsReporter interface {
	Summary() string
}

// Poller long-polls the Bot API for operator commands and answers
// them through the Sink. It tracks the update offset so a command is
// handled exactly once, and dies with the rest of the system via the
// shared coordinator.
type Poller struct {
	tomb tomb.Tomb

	sink        *Sink
	stats       StatsReporter
	coordinator *shutdown.Coordinator
	clock       clock.Clock

	offset int64
}

// NewPoller starts a Poller.
func NewPoller(sink *Sink, stats StatsReporter, coordinator *shutdown.Coordinator, clk clock.Clock) (*Poller, error) {
	if sink == nil {
		return nil, errors.NotValidf("nil Sink")
	}
	if stats == nil {
		return nil, errors.NotValidf("nil StatsReporter")
	}
	if coordinator == nil {
		return nil, errors.NotValidf("nil Coordinator")
	}
	if clk == nil {
		return nil, errors.NotValidf("nil Clock")
	}
	p := &Poller{
		sink:        sink,
		stats:       stats,
		coordinator: coordinator,
		clock:       clk,
	}
	p.tomb.Go(p.loop)
	return p, nil
}

// Kill implements the worker.Worker interface.
func (p *Poller) Kill() {
	p.tomb.Kill(nil)
}

// Wait implements the worker.Worker interface.
func (p *Poller) Wait() error {
	return p.tomb.Wait()
}

func (p *Poller) loop() error {
	for {
		select {
		case <-p.tomb.Dying():
			return tomb.ErrDying
		case <-p.coordinator.Dying():
			return nil
		default:
		}

		updates, err := p.poll()
		if err != nil {
			logger.Debugf("polling for commands: %v", err)
			select {
			case <-p.tomb.Dying():
				return tomb.ErrDying
			case <-p.coordinator.Dying():
				return nil
			case <-p.clock.After(pollRetryDelay):
			}
			continue
		}
		for _, update := range updates {
			if update.UpdateId >= p.offset {
				p.offset = update.UpdateId + 1
			}
			p.dispatch(update)
		}
	}
}

func (p *Poller) poll() ([]Update, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout+pushTimeout)
	defer cancel()
	return p.sink.getUpdates(ctx, p.offset, pollTimeout)
}

func (p *Poller) dispatch(update Update) {
	command := strings.TrimSpace(update.Message.Text)
	switch command {
	case "/stats", "/stat":
		p.sink.Push(p.stats.Summary())
	case "/help":
		p.sink.Push(helpText)
	default:
		if command != "" {
			logger.Tracef("ignoring message %q", command)
		}
	}
}
