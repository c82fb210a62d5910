package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	apiclient "github.com/splax/edgeship/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL   string `json:"api_base_url"`
	RelayBaseURL string `json:"relay_base_url"`
}

const (
	defaultAPIBase   = "http://localhost:9000"
	defaultRelayBase = "http://localhost:9002"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "deploy":
		err = commandDeploy(args)
	case "logs":
		err = commandLogs(args)
	case "config":
		err = commandConfig(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	gitURL := fs.String("git", "", "Repository URL to build")
	slug := fs.String("slug", "", "Deployment identifier (generated when empty)")
	apiBase := fs.String("api", "", "Orchestrator base URL")
	relayBase := fs.String("relay", "", "Log relay base URL")
	follow := fs.Bool("follow", false, "Stream build logs until the deployment finishes")
	fs.Parse(args)

	if strings.TrimSpace(*gitURL) == "" {
		return errors.New("--git is required")
	}
	client, err := newClient(*apiBase, *relayBase)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dep, err := client.Dispatch(ctx, *gitURL, *slug)
	cancel()
	if err != nil {
		return err
	}
	fmt.Printf("deployment queued: %s\n", dep.Slug)
	fmt.Printf("url: %s\n", dep.URL)
	if !*follow {
		return nil
	}
	return followLogs(client, dep.Slug)
}

func commandLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	relayBase := fs.String("relay", "", "Log relay base URL")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: peep logs [--relay url] <slug>")
	}
	client, err := newClient("", *relayBase)
	if err != nil {
		return err
	}
	return followLogs(client, fs.Arg(0))
}

func commandConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	apiBase := fs.String("api", "", "Orchestrator base URL to remember")
	relayBase := fs.String("relay", "", "Log relay base URL to remember")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*apiBase) == "" && strings.TrimSpace(*relayBase) == "" {
		fmt.Printf("api: %s\nrelay: %s\n", cfg.APIBaseURL, cfg.RelayBaseURL)
		return nil
	}
	if v := strings.TrimSpace(*apiBase); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(*relayBase); v != "" {
		cfg.RelayBaseURL = v
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("configuration saved")
	return nil
}

func newClient(apiBase, relayBase string) (*apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(apiBase); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(relayBase); v != "" {
		cfg.RelayBaseURL = v
	}
	return apiclient.New(cfg.APIBaseURL, apiclient.WithRelayURL(cfg.RelayBaseURL))
}

func followLogs(client *apiclient.Client, slug string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	color := term.IsTerminal(int(os.Stdout.Fd()))
	return client.Follow(ctx, slug, func(line string) {
		printLine(os.Stdout, line, color)
	})
}

const (
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiReset = "\x1b[0m"
)

func printLine(w io.Writer, line string, color bool) {
	if !color {
		fmt.Fprintln(w, line)
		return
	}
	switch {
	case strings.HasPrefix(line, "error: "), strings.HasPrefix(line, "Failed: "), strings.HasPrefix(line, "failed to upload "):
		fmt.Fprintln(w, ansiRed+line+ansiReset)
	case line == "Done":
		fmt.Fprintln(w, ansiGreen+line+ansiReset)
	default:
		fmt.Fprintln(w, line)
	}
}

func loadConfig() (cliConfig, error) {
	defaults := cliConfig{APIBaseURL: defaultAPIBase, RelayBaseURL: defaultRelayBase}
	path, err := configPath()
	if err != nil {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	if cfg.RelayBaseURL == "" {
		cfg.RelayBaseURL = defaultRelayBase
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "peep", "config.json"), nil
}

func printUsage() {
	fmt.Printf("peep CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	peep deploy --git <repo-url> [--slug name] [--api url] [--relay url] [--follow]
	peep logs [--relay url] <slug>
	peep config [--api url] [--relay url]
	peep version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
