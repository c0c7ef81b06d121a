// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command magpie hunts for a cloud resource whose address lands in a
// target set: it keeps reserving and releasing floating IPs or
// servers until one of them comes up with a wanted address, keeps
// that one, and stops.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/magpie-cloud/magpie/internal/config"
	"github.com/magpie-cloud/magpie/internal/hunter"
	"github.com/magpie-cloud/magpie/internal/pacing"
	"github.com/magpie-cloud/magpie/internal/provision"
	"github.com/magpie-cloud/magpie/internal/shutdown"
	"github.com/magpie-cloud/magpie/internal/stats"
	"github.com/magpie-cloud/magpie/internal/telegram"
)

var logger = loggo.GetLogger("magpie")

const defaultLoggingConfig = "<root>=INFO"

// Pause tuning for the worker pool. Deliberately humane: the point is
// a slow churn of reservations, not a thundering herd.
var (
	baseDelay      = hunter.DelayBounds{Min: 3 * time.Second, Max: 10 * time.Second}
	retryDelay     = hunter.DelayBounds{Min: 5 * time.Second, Max: 15 * time.Second}
	breakDelay     = hunter.DelayBounds{Min: 10 * time.Second, Max: 60 * time.Second}
	longBreakDelay = hunter.DelayBounds{Min: 30 * time.Second, Max: 120 * time.Second}
	longBreakEvery = 20

	drainTimeout = 30 * time.Second
)

func main() {
	os.Exit(Main(os.Args[1:]))
}

// Main runs the hunt and returns the process exit code: 0 for a match
// or a clean interrupt, 1 for configuration or credential failure.
func Main(args []string) int {
	settings, err := parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "magpie: %v\n", err)
		return 1
	}

	loggingConfig := settings.LoggingConfig
	if loggingConfig == "" {
		loggingConfig = defaultLoggingConfig
	}
	if err := loggo.ConfigureLoggers(loggingConfig); err != nil {
		fmt.Fprintf(os.Stderr, "magpie: invalid logging config: %v\n", err)
		return 1
	}

	if err := run(settings); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	return 0
}

// parse folds command line overrides over the environment.
func parse(args []string) (*config.Settings, error) {
	settings, err := config.FromEnviron(os.Environ())
	if err != nil {
		return nil, errors.Trace(err)
	}

	fs := gnuflag.NewFlagSetWithFlagKnownAs("magpie", gnuflag.ContinueOnError, "option")
	fs.IntVar(&settings.Workers, "workers", settings.Workers, "number of hunt workers")
	fs.StringVar(&settings.Resource, "resource", settings.Resource, "resource kind to hunt (floating-ip or server)")
	fs.StringVar(&settings.StatsFile, "stats-file", settings.StatsFile, "path of the shared statistics file")
	if err := fs.Parse(true, args); err != nil {
		return nil, errors.Trace(err)
	}
	if err := settings.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return settings, nil
}

func run(settings *config.Settings) error {
	clk := clock.WallClock

	session, err := provision.NewSession(settings.Credentials)
	if err != nil {
		return errors.Annotate(err, "cannot establish cloud session")
	}

	reserver, err := buildReserver(session, settings, clk)
	if err != nil {
		return errors.Trace(err)
	}

	var notifier stats.Notifier = nopNotifier{}
	var sink *telegram.Sink
	if settings.TelegramEnabled() {
		sink, err = telegram.NewSink(settings.TelegramToken, settings.TelegramChatId, "", nil)
		if err != nil {
			return errors.Trace(err)
		}
		notifier = sink
	}
	store, err := stats.NewStore(settings.StatsFile, clk, notifier, settings.StatsPushEvery)
	if err != nil {
		return errors.Trace(err)
	}

	coordinator := shutdown.NewCoordinator(clk)
	propagateSignals(coordinator)

	policy, err := pacing.NewPolicy(clk, rand.NewSource(time.Now().UnixNano()))
	if err != nil {
		return errors.Trace(err)
	}

	h, err := hunter.New(hunter.Config{
		Workers:        settings.Workers,
		Ranges:         settings.Ranges,
		Reserver:       reserver,
		Stats:          store,
		Pacing:         policy,
		Coordinator:    coordinator,
		ReadyTimeout:   settings.ReadyTimeout,
		BaseDelay:      baseDelay,
		RetryDelay:     retryDelay,
		BreakDelay:     breakDelay,
		LongBreakDelay: longBreakDelay,
		LongBreakEvery: longBreakEvery,
	})
	if err != nil {
		return errors.Trace(err)
	}

	var poller *telegram.Poller
	if sink != nil {
		poller, err = telegram.NewPoller(sink, store, coordinator, clk)
		if err != nil {
			return errors.Trace(err)
		}
	}

	huntErr := h.Wait()
	if err := coordinator.AwaitDrain(drainTimeout); err != nil {
		logger.Warningf("%v", err)
	}
	if poller != nil {
		poller.Kill()
		if err := poller.Wait(); err != nil {
			logger.Warningf("command poller: %v", err)
		}
	}

	if released := h.ReleaseStray(); released > 0 {
		logger.Infof("released %d stray resources", released)
	}

	reason, _ := coordinator.Reason()
	logger.Infof("hunt stopped: %s", reason)

	if result := h.Result(); result != nil {
		message := fmt.Sprintf("Found it: %s on resource %s (worker %d)", result.Address, result.ResourceId, result.Worker)
		logger.Infof("%s", message)
		notifier.Push(message)
	}
	notifier.Push(store.Summary())

	return errors.Trace(huntErr)
}

func buildReserver(session *provision.Session, settings *config.Settings, clk clock.Clock) (provision.Reserver, error) {
	switch settings.Resource {
	case config.ResourceFloatingIP:
		networkId := settings.FloatingNetwork
		if networkId == "" {
			networks, err := provision.ExternalNetworks(session.Neutron)
			if err != nil {
				return nil, errors.Annotate(err, "cannot list external networks")
			}
			if len(networks) == 0 {
				return nil, errors.Errorf("no external network found; set MAGPIE_FLOATING_NETWORK")
			}
			networkId = networks[0].Id
			logger.Infof("using external network %q (%s)", networks[0].Name, networkId)
		}
		return provision.NewFloatingIPReserver(session.Neutron, networkId, clk)
	case config.ResourceServer:
		spec := settings.Server
		if spec.FlavorId == "" {
			flavor, err := provision.SmallestFlavor(session.Nova)
			if err != nil {
				return nil, errors.Annotate(err, "cannot pick a flavor")
			}
			spec.FlavorId = flavor.Id
			logger.Infof("using flavor %q (%s)", flavor.Name, flavor.Id)
		}
		return provision.NewServerReserver(session.Nova, spec, clk, nil)
	}
	return nil, errors.NotValidf("resource kind %q", settings.Resource)
}

// propagateSignals turns the first SIGINT or SIGTERM into a
// coordinated stop. A second signal while draining kills the process
// the hard way.
func propagateSignals(coordinator *shutdown.Coordinator) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		logger.Infof("caught %v, stopping", sig)
		coordinator.Signal(shutdown.ReasonInterrupt, nil)
		sig = <-ch
		logger.Errorf("caught second %v, exiting immediately", sig)
		os.Exit(1)
	}()
}

// nopNotifier drops messages when no notification sink is configured.
type nopNotifier struct{}

func (nopNotifier) Push(string) {}
