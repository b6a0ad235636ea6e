// Standupd is a chat-driven standup assistant.
//
// It listens for direct messages over a Slack socket-mode connection,
// maintains one structured standup update per user per day, and sends a
// scheduled morning prompt to every member of a configured user group.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	standupd serve                        Start the assistant
//	standupd ask <message>                Run one turn locally (for testing)
//	standupd updates <user> [date]        Print a stored update
//	standupd delete-update <user> [date]  Delete a stored update
//	standupd github-logout <user>         Remove a user's GitHub link
//	standupd version                      Print version and build information
//	standupd -o json version              Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"standup-agent/internal/agent"
	"standup-agent/internal/buildinfo"
	"standup-agent/internal/compose"
	"standup-agent/internal/config"
	"standup-agent/internal/convlog"
	"standup-agent/internal/extract"
	"standup-agent/internal/githublink"
	"standup-agent/internal/llm"
	"standup-agent/internal/reconcile"
	"standup-agent/internal/scheduler"
	"standup-agent/internal/standup"
	"standup-agent/internal/transport"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the standupd command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the transport, scheduler, and OAuth server.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: standupd ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "updates":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: standupd updates <user> [date]")
		}
		return runUpdates(stdout, configPath, outputFmt, cmdArgs)
	case "delete-update":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: standupd delete-update <user> [date]")
		}
		return runDeleteUpdate(stdout, configPath, cmdArgs)
	case "github-connect":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: standupd github-connect <user>")
		}
		return runGithubConnect(stdout, configPath, cmdArgs[0])
	case "github-logout":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: standupd github-logout <user>")
		}
		return runGithubLogout(stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// standupd is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Standupd - Chat-Driven Standup Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: standupd [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                        Start the assistant")
	fmt.Fprintln(w, "  ask <message>                Run one turn locally (for testing)")
	fmt.Fprintln(w, "  updates <user> [date]        Print a stored update (date: YYYY-MM-DD, \"all\", default today)")
	fmt.Fprintln(w, "  delete-update <user> [date]  Delete a stored update")
	fmt.Fprintln(w, "  github-connect <user>        Print a user's GitHub authorization URL")
	fmt.Fprintln(w, "  github-logout <user>         Remove a user's GitHub link")
	fmt.Fprintln(w, "  version                      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/standupd/config.yaml, /etc/standupd/config.yaml")
	return nil
}

// runAsk handles the "standupd ask <message>" subcommand. It runs a
// single turn against the real stores and reasoning service, without a
// chat connection, and prints the reply. Useful for smoke-testing the
// policy and extraction prompts without a Slack workspace.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")
	message := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	updates, err := standup.NewStoreWithDB(db)
	if err != nil {
		return fmt.Errorf("open update store: %w", err)
	}
	log, err := convlog.NewStoreWithDB(db)
	if err != nil {
		return fmt.Errorf("open conversation log: %w", err)
	}

	client, err := newReasoningClient(cfg, logger)
	if err != nil {
		return err
	}

	// No transport: Turn never sends, it only returns the reply.
	a := agent.New(agent.Config{
		Policy:   reconcile.NewPolicy(client, logger),
		Engine:   extract.NewEngine(client, cfg.Standup.SplitDays, logger),
		Composer: compose.NewComposer(client, logger),
		Updates:  updates,
		ConvLog:  log,
		Location: loadLocation(cfg, logger),
		Logger:   logger,
	})

	reply, err := a.Turn(ctx, transport.Event{
		UserID:    "cli-user",
		ChannelID: "cli",
		Text:      message,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, reply)
	return nil
}

// runUpdates handles the "standupd updates <user> [date]" subcommand.
// It prints the stored update for the user, today's by default.
func runUpdates(stdout io.Writer, configPath string, outputFmt string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	updates, err := standup.NewStoreWithDB(db)
	if err != nil {
		return fmt.Errorf("open update store: %w", err)
	}

	userID := args[0]
	date := standup.DateKey(time.Now(), loadLocation(cfg, logger))
	if len(args) > 1 {
		date = args[1]
	}

	if date == "all" {
		return printAllUpdates(stdout, updates, userID, outputFmt)
	}

	rec, err := updates.Get(userID, date)
	if errors.Is(err, standup.ErrNotFound) {
		fmt.Fprintf(stdout, "No update for %s on %s\n", userID, date)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load update: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Fprintf(stdout, "Update for %s on %s (last edited %s):\n\n", rec.UserID, rec.Date, rec.UpdateTime.Format(time.RFC3339))
	fmt.Fprintln(stdout, compose.FormatRecord(rec))
	return nil
}

// printAllUpdates lists every stored update for a user, oldest first.
func printAllUpdates(stdout io.Writer, updates *standup.Store, userID string, outputFmt string) error {
	recs, err := updates.ListSince(userID, "")
	if err != nil {
		return fmt.Errorf("list updates: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprintf(stdout, "No updates for %s\n", userID)
		return nil
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	for i, rec := range recs {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		fmt.Fprintf(stdout, "%s:\n%s\n", rec.Date, compose.FormatRecord(rec))
	}
	return nil
}

// runDeleteUpdate handles the "standupd delete-update <user> [date]"
// subcommand.
func runDeleteUpdate(stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	updates, err := standup.NewStoreWithDB(db)
	if err != nil {
		return fmt.Errorf("open update store: %w", err)
	}

	userID := args[0]
	date := standup.DateKey(time.Now(), loadLocation(cfg, logger))
	if len(args) > 1 {
		date = args[1]
	}

	if err := updates.Delete(userID, date); errors.Is(err, standup.ErrNotFound) {
		fmt.Fprintf(stdout, "No update for %s on %s\n", userID, date)
		return nil
	} else if err != nil {
		return fmt.Errorf("delete update: %w", err)
	}

	fmt.Fprintf(stdout, "Deleted update for %s on %s\n", userID, date)
	return nil
}

// runGithubConnect handles the "standupd github-connect <user>"
// subcommand. It prints the authorization URL to send to the user; the
// serve process's callback handler completes the link when they visit
// it.
func runGithubConnect(stdout io.Writer, configPath string, userID string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.GitHub.ClientID == "" {
		return fmt.Errorf("github client_id is not configured")
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	links, err := githublink.NewLinkStoreWithDB(db)
	if err != nil {
		return fmt.Errorf("open link store: %w", err)
	}

	flow := githublink.NewFlow(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.RedirectURL, links, nil, logger)
	fmt.Fprintf(stdout, "Send this link to %s:\n%s\n", userID, flow.AuthURL(userID))
	return nil
}

// runGithubLogout handles the "standupd github-logout <user>"
// subcommand. It removes the user's stored OAuth token.
func runGithubLogout(stdout io.Writer, configPath string, userID string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	links, err := githublink.NewLinkStoreWithDB(db)
	if err != nil {
		return fmt.Errorf("open link store: %w", err)
	}

	if err := links.Delete(userID); errors.Is(err, githublink.ErrNotLinked) {
		fmt.Fprintf(stdout, "No GitHub link for %s\n", userID)
		return nil
	} else if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}

	fmt.Fprintf(stdout, "Removed GitHub link for %s\n", userID)
	return nil
}

// runServe handles the "standupd serve" subcommand. It is the primary
// operating mode: loads config, opens the database, builds the policy,
// extraction, and composition layers, connects to Slack over socket
// mode, starts the scheduler and the OAuth callback server, and blocks
// until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The socket-mode connection closes and the event channel drains
//  3. The scheduler waits for in-flight executions
//  4. The database connection is closed via defer
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting standupd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that we know the desired level. The initial
	// Info-level logger covers only the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level, "text")
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"model", cfg.Anthropic.Model,
		"prompt_time", cfg.Standup.PromptTime,
		"timezone", cfg.Standup.Timezone,
	)

	if cfg.Slack.BotToken == "" || cfg.Slack.AppToken == "" {
		return fmt.Errorf("slack bot_token and app_token are required for serve")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database ---
	// All persistent state (updates, conversation log, GitHub links,
	// scheduled tasks) shares one SQLite file under the data directory.
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	updates, err := standup.NewStoreWithDB(db)
	if err != nil {
		return fmt.Errorf("open update store: %w", err)
	}
	log, err := convlog.NewStoreWithDB(db)
	if err != nil {
		return fmt.Errorf("open conversation log: %w", err)
	}

	// --- Reasoning service ---
	client, err := newReasoningClient(cfg, logger)
	if err != nil {
		return err
	}

	// --- GitHub linking (optional) ---
	// Without an OAuth app configured, morning prompts simply omit the
	// activity context.
	var feed *githublink.Feed
	var flow *githublink.Flow
	if cfg.GitHub.ClientID != "" {
		links, err := githublink.NewLinkStoreWithDB(db)
		if err != nil {
			return fmt.Errorf("open link store: %w", err)
		}
		feed = githublink.NewFeed(links, nil, logger)
		flow = githublink.NewFlow(cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, cfg.GitHub.RedirectURL, links, nil, logger)
		logger.Info("github linking enabled", "callback_addr", cfg.GitHub.CallbackAddr)
	} else {
		logger.Warn("github not configured - morning prompts will omit code activity")
	}

	// --- Transport and agent ---
	slack := transport.NewSlack(cfg.Slack.BotToken, cfg.Slack.AppToken, nil, logger)
	a := agent.New(agent.Config{
		Transport: slack,
		Policy:    reconcile.NewPolicy(client, logger),
		Engine:    extract.NewEngine(client, cfg.Standup.SplitDays, logger),
		Composer:  compose.NewComposer(client, logger),
		Updates:   updates,
		ConvLog:   log,
		Feed:      feed,
		Location:  loadLocation(cfg, logger),
		Logger:    logger,
	})

	// --- Scheduler ---
	// One daily task drives the morning prompts. EnsureDailyTask keeps
	// the stored task in sync with the config across restarts.
	schedStore, err := scheduler.NewStoreWithDB(db)
	if err != nil {
		return fmt.Errorf("open scheduler store: %w", err)
	}
	sched := scheduler.New(logger, schedStore, func(ctx context.Context, task *scheduler.Task, exec *scheduler.Execution) error {
		return a.RunMorningPrompts(ctx, task.GroupID)
	})
	if cfg.Slack.UsergroupID != "" {
		if _, err := sched.EnsureDailyTask("morning-standup", cfg.Standup.PromptTime, cfg.Standup.Timezone, cfg.Slack.UsergroupID); err != nil {
			return fmt.Errorf("ensure morning task: %w", err)
		}
	} else {
		logger.Warn("no usergroup configured - morning prompts disabled")
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// --- Run ---
	errCh := make(chan error, 2)
	go func() { errCh <- slack.Run(ctx) }()
	go func() { errCh <- a.Run(ctx) }()
	if flow != nil {
		go func() {
			if err := flow.Serve(ctx, cfg.GitHub.CallbackAddr); err != nil {
				logger.Error("oauth callback server", "error", err)
			}
		}()
	}

	logger.Info("standupd ready")

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in standupd goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// openDatabase ensures the data directory exists and opens the shared
// SQLite database. Each store runs its own migration against it.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := cfg.DataDir + "/standupd.db"
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	return db, nil
}

// newReasoningClient builds the Anthropic client from config.
func newReasoningClient(cfg *config.Config, logger *slog.Logger) (*llm.AnthropicClient, error) {
	if cfg.Anthropic.APIKey == "" {
		return nil, fmt.Errorf("anthropic api_key is required")
	}
	return llm.NewAnthropicClient(cfg.Anthropic.APIKey, llm.AnthropicOptions{
		Model:      cfg.Anthropic.Model,
		Timeout:    time.Duration(cfg.Anthropic.TimeoutSec) * time.Second,
		MaxRetries: cfg.Anthropic.MaxRetries,
	}, logger), nil
}

// loadLocation resolves the configured timezone, falling back to UTC.
func loadLocation(cfg *config.Config, logger *slog.Logger) *time.Location {
	if cfg.Standup.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(cfg.Standup.Timezone)
	if err != nil {
		logger.Warn("invalid timezone, using UTC", "timezone", cfg.Standup.Timezone, "error", err)
		return time.UTC
	}
	return loc
}
