// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config assembles the hunt's runtime settings from the
// environment. OpenStack credentials come in through the usual OS_*
// variables; everything magpie-specific is namespaced MAGPIE_*.
package config

import (
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"github.com/magpie-cloud/magpie/internal/iprange"
	"github.com/magpie-cloud/magpie/internal/provision"
)

// Resource kinds a hunt can chase.
const (
	ResourceFloatingIP = "floating-ip"
	ResourceServer     = "server"
)

const (
	defaultWorkers       = 4
	defaultVolumeSizeGB  = 10
	defaultReadyTimeout  = 5 * time.Minute
	defaultStatsFile     = "magpie-stats.json"
	defaultStatsPushEach = 100
)

// Settings is the fully-coerced runtime configuration.
type Settings struct {
	Credentials provision.Credentials

	Resource string
	Workers  int
	Ranges   iprange.Set

	// Floating IP hunts.
	FloatingNetwork string

	// Server hunts.
	Server provision.ServerSpec

	ReadyTimeout time.Duration

	StatsFile      string
	StatsPushEvery int

	LoggingConfig string

	TelegramToken  string
	TelegramChatId string
}

var fields = schema.Fields{
	"OS_AUTH_URL":            schema.String(),
	"OS_USERNAME":            schema.String(),
	"OS_PASSWORD":            schema.String(),
	"OS_PROJECT_NAME":        schema.String(),
	"OS_USER_DOMAIN_NAME":    schema.String(),
	"OS_PROJECT_DOMAIN_NAME": schema.String(),
	"OS_REGION_NAME":         schema.String(),

	"MAGPIE_RESOURCE":         schema.OneOf(schema.Const(ResourceFloatingIP), schema.Const(ResourceServer)),
	"MAGPIE_WORKERS":          schema.ForceInt(),
	"MAGPIE_TARGET_RANGES":    schema.String(),
	"MAGPIE_FLOATING_NETWORK": schema.String(),
	"MAGPIE_FLAVOR":           schema.String(),
	"MAGPIE_IMAGE":            schema.String(),
	"MAGPIE_NETWORK":          schema.String(),
	"MAGPIE_VOLUME_SIZE_GB":   schema.ForceInt(),
	"MAGPIE_READY_TIMEOUT":    schema.TimeDuration(),
	"MAGPIE_STATS_FILE":       schema.String(),
	"MAGPIE_STATS_PUSH_EVERY": schema.ForceInt(),
	"MAGPIE_LOGGING_CONFIG":   schema.String(),
	"MAGPIE_SKIP_TLS_VERIFY":  schema.Bool(),

	"TELEGRAM_BOT_TOKEN": schema.String(),
	"TELEGRAM_CHAT_ID":   schema.String(),
}

var defaults = schema.Defaults{
	"OS_USER_DOMAIN_NAME":    "",
	"OS_PROJECT_DOMAIN_NAME": "",
	"OS_REGION_NAME":         "",

	"MAGPIE_RESOURCE":         ResourceFloatingIP,
	"MAGPIE_WORKERS":          defaultWorkers,
	"MAGPIE_FLOATING_NETWORK": "",
	"MAGPIE_FLAVOR":           "",
	"MAGPIE_IMAGE":            "",
	"MAGPIE_NETWORK":          "",
	"MAGPIE_VOLUME_SIZE_GB":   defaultVolumeSizeGB,
	"MAGPIE_READY_TIMEOUT":    defaultReadyTimeout,
	"MAGPIE_STATS_FILE":       defaultStatsFile,
	"MAGPIE_STATS_PUSH_EVERY": defaultStatsPushEach,
	"MAGPIE_LOGGING_CONFIG":   "",
	"MAGPIE_SKIP_TLS_VERIFY":  false,

	"TELEGRAM_BOT_TOKEN": "",
	"TELEGRAM_CHAT_ID":   "",
}

var checker = schema.FieldMap(fields, defaults)

// FromEnviron coerces an environment in the form produced by
// os.Environ into Settings. Unknown variables are ignored; missing
// mandatory ones or malformed values are an error.
func FromEnviron(environ []string) (*Settings, error) {
	attrs := map[string]interface{}{}
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, known := fields[name]; known {
			attrs[name] = value
		}
	}
	coerced, err := checker.Coerce(attrs, nil)
	if err != nil {
		return nil, errors.Annotate(err, "invalid environment")
	}
	return fromAttrs(coerced.(map[string]interface{}))
}

func fromAttrs(attrs map[string]interface{}) (*Settings, error) {
	s := &Settings{
		Credentials: provision.Credentials{
			AuthURL:       attrs["OS_AUTH_URL"].(string),
			Username:      attrs["OS_USERNAME"].(string),
			Password:      attrs["OS_PASSWORD"].(string),
			ProjectName:   attrs["OS_PROJECT_NAME"].(string),
			UserDomain:    attrs["OS_USER_DOMAIN_NAME"].(string),
			ProjectDomain: attrs["OS_PROJECT_DOMAIN_NAME"].(string),
			Region:        attrs["OS_REGION_NAME"].(string),
			SkipTLSVerify: attrs["MAGPIE_SKIP_TLS_VERIFY"].(bool),
		},
		Resource:        attrs["MAGPIE_RESOURCE"].(string),
		Workers:         attrs["MAGPIE_WORKERS"].(int),
		FloatingNetwork: attrs["MAGPIE_FLOATING_NETWORK"].(string),
		Server: provision.ServerSpec{
			FlavorId:     attrs["MAGPIE_FLAVOR"].(string),
			ImageId:      attrs["MAGPIE_IMAGE"].(string),
			NetworkId:    attrs["MAGPIE_NETWORK"].(string),
			VolumeSizeGB: attrs["MAGPIE_VOLUME_SIZE_GB"].(int),
		},
		ReadyTimeout:   attrs["MAGPIE_READY_TIMEOUT"].(time.Duration),
		StatsFile:      attrs["MAGPIE_STATS_FILE"].(string),
		StatsPushEvery: attrs["MAGPIE_STATS_PUSH_EVERY"].(int),
		LoggingConfig:  attrs["MAGPIE_LOGGING_CONFIG"].(string),
		TelegramToken:  attrs["TELEGRAM_BOT_TOKEN"].(string),
		TelegramChatId: attrs["TELEGRAM_CHAT_ID"].(string),
	}

	ranges, err := iprange.ParseSet(splitComma(attrs["MAGPIE_TARGET_RANGES"].(string)))
	if err != nil {
		return nil, errors.Annotate(err, "MAGPIE_TARGET_RANGES")
	}
	s.Ranges = ranges

	if err := s.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Validate checks cross-field consistency after any command line
// overrides have been applied.
func (s *Settings) Validate() error {
	if err := s.Credentials.Validate(); err != nil {
		return errors.Trace(err)
	}
	if s.Workers <= 0 {
		return errors.NotValidf("MAGPIE_WORKERS %d", s.Workers)
	}
	if len(s.Ranges) == 0 {
		return errors.NotValidf("empty MAGPIE_TARGET_RANGES")
	}
	if s.StatsPushEvery <= 0 {
		return errors.NotValidf("MAGPIE_STATS_PUSH_EVERY %d", s.StatsPushEvery)
	}
	switch s.Resource {
	case ResourceFloatingIP:
	case ResourceServer:
		if err := s.Server.Validate(); err != nil {
			return errors.Trace(err)
		}
	default:
		return errors.NotValidf("MAGPIE_RESOURCE %q", s.Resource)
	}
	if (s.TelegramToken == "") != (s.TelegramChatId == "") {
		return errors.NotValidf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

// TelegramEnabled reports whether notification settings are present.
func (s *Settings) TelegramEnabled() bool {
	return s.TelegramToken != "" && s.TelegramChatId != ""
}

func splitComma(raw string) []string {
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
