package config

import (
	"errors"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// Interactive reports whether stdin and stdout are both terminals.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Missing lists the connection settings that are still empty.
func (c *Config) Missing() []string {
	var keys []string
	if c.Jira.URL == "" {
		keys = append(keys, "jira.url")
	}
	if c.Jira.User == "" {
		keys = append(keys, "jira.user")
	}
	if c.Jira.Token == "" {
		keys = append(keys, "jira.token")
	}
	if c.TrackingProject == "" {
		keys = append(keys, "tracking_project")
	}
	return keys
}

// Prompt asks for every setting in Missing and fills cfg in place.
func Prompt(cfg *Config) error {
	missing := cfg.Missing()
	if len(missing) == 0 {
		return nil
	}

	var fields []huh.Field
	for _, key := range missing {
		switch key {
		case "jira.url":
			fields = append(fields, huh.NewInput().
				Title("Jira URL").
				Placeholder("https://example.atlassian.net").
				Value(&cfg.Jira.URL).
				Validate(ValidateURL))
		case "jira.user":
			fields = append(fields, huh.NewInput().
				Title("Jira user (email)").
				Value(&cfg.Jira.User).
				Validate(required("user")))
		case "jira.token":
			fields = append(fields, huh.NewInput().
				Title("Jira API token").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.Jira.Token).
				Validate(required("token")))
		case "tracking_project":
			fields = append(fields, huh.NewInput().
				Title("Tracking project key").
				Description("Project holding the time codes, e.g. TIME").
				Value(&cfg.TrackingProject))
		}
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}
	cfg.Jira.URL = strings.TrimRight(strings.TrimSpace(cfg.Jira.URL), "/")
	cfg.TrackingProject = strings.ToUpper(strings.TrimSpace(cfg.TrackingProject))
	return nil
}

// ValidateURL accepts absolute http(s) URLs.
func ValidateURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(name + " is required")
		}
		return nil
	}
}
