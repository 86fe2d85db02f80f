package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/trailcrew/TrailCrewBack/pkg/trailclient"
	"github.com/trailcrew/TrailCrewBack/pkg/trailclient/cache"
)

const defaultBaseURL = "http://localhost:8080"

// getClient builds an authenticated client from the config file.
func getClient() (*trailclient.Client, *Config) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'trailchat config set auth.token <jwt>' first.")
		os.Exit(1)
	}
	baseURL := cfg.Default.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return trailclient.NewClient(baseURL, cfg.Auth.Token), cfg
}

// parseRoom accepts "conversation:<id>", "group:<id>" or a bare
// conversation id.
func parseRoom(arg string) (trailclient.Room, error) {
	if !strings.Contains(arg, ":") {
		id, err := parseID(arg)
		if err != nil {
			return trailclient.Room{}, err
		}
		return trailclient.ConversationRoom(id), nil
	}
	return trailclient.ParseRoom(arg)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func pollInterval(cfg *Config) time.Duration {
	if cfg.Default.PollInterval == "" {
		return cache.DefaultPollInterval
	}
	d, err := time.ParseDuration(cfg.Default.PollInterval)
	if err != nil || d <= 0 {
		return cache.DefaultPollInterval
	}
	return d
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// requestError turns client errors into short user-facing messages.
func requestError(err error) error {
	switch {
	case errors.Is(err, trailclient.ErrAuthentication):
		return fmt.Errorf("not signed in or token expired: %w", err)
	case errors.Is(err, trailclient.ErrAuthorization):
		return fmt.Errorf("not allowed: %w", err)
	case errors.Is(err, trailclient.ErrNotFound):
		return fmt.Errorf("not found: %w", err)
	case errors.Is(err, trailclient.ErrTransient):
		return fmt.Errorf("server unreachable, try again: %w", err)
	}
	return fmt.Errorf("request failed: %w", err)
}

func formatMessage(m trailclient.Message) string {
	sender := m.SenderName
	if sender == "" {
		sender = strconv.FormatInt(m.SenderID, 10)
	}
	return fmt.Sprintf("[%s] #%d %s: %s", m.CreatedAt.Local().Format("02 Jan 15:04"), m.ID, sender, m.Content)
}
