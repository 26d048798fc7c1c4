package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adityalohuni/pickscrape/internal/config"
)

type settingField struct {
	name string
	get  func(config.Settings) string
	set  func(*config.Settings, string) error
}

var settingFields = []settingField{
	{"daemon.addr", func(s config.Settings) string { return s.DaemonAddr }, func(s *config.Settings, v string) error {
		s.DaemonAddr = v
		return nil
	}},
	{"auth.api_token", func(s config.Settings) string { return s.APIToken }, func(s *config.Settings, v string) error {
		s.APIToken = v
		return nil
	}},
	{"auth.admin_token", func(s config.Settings) string { return s.AdminToken }, func(s *config.Settings, v string) error {
		s.AdminToken = v
		return nil
	}},
	{"browser.headless", func(s config.Settings) string { return strconv.FormatBool(s.Headless) }, func(s *config.Settings, v string) error {
		b, err := strconv.ParseBool(v)
		s.Headless = b
		return err
	}},
	{"browser.navigation_timeout", func(s config.Settings) string { return s.NavigationTimeout.String() }, durationSetter(func(s *config.Settings) *time.Duration { return &s.NavigationTimeout })},
	{"capture.interactive", func(s config.Settings) string { return s.Interactive }, func(s *config.Settings, v string) error {
		s.Interactive = strings.ToLower(v)
		return nil
	}},
	{"capture.csv_dir", func(s config.Settings) string { return s.CSVDir }, func(s *config.Settings, v string) error {
		s.CSVDir = v
		return nil
	}},
	{"capture.ack_grace", func(s config.Settings) string { return s.AckGrace.String() }, durationSetter(func(s *config.Settings) *time.Duration { return &s.AckGrace })},
	{"tui.admin_base_url", func(s config.Settings) string { return s.AdminBaseURL }, func(s *config.Settings, v string) error {
		s.AdminBaseURL = v
		return nil
	}},
	{"tui.refresh_interval", func(s config.Settings) string { return s.TUIRefreshInterval.String() }, durationSetter(func(s *config.Settings) *time.Duration { return &s.TUIRefreshInterval })},
}

func durationSetter(field func(*config.Settings) *time.Duration) func(*config.Settings, string) error {
	return func(s *config.Settings, v string) error {
		if v == "" {
			return errors.New("cannot be empty")
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(s) = d
		return nil
	}
}

func formFromSettings(s config.Settings) []string {
	form := make([]string, len(settingFields))
	for i, f := range settingFields {
		form[i] = f.get(s)
	}
	return form
}

func formToSettings(base config.Settings, form []string) (config.Settings, error) {
	next := base
	for i, f := range settingFields {
		if i >= len(form) {
			break
		}
		if err := f.set(&next, strings.TrimSpace(form[i])); err != nil {
			return config.Settings{}, fmt.Errorf("invalid %s: %w", f.name, err)
		}
	}
	if err := next.Validate(); err != nil {
		return config.Settings{}, err
	}
	return next, nil
}
