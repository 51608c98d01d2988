package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v2"

	"cellrun/internal/config"
	"cellrun/internal/executor"
	"cellrun/internal/logging"
	"cellrun/internal/notebook"
	"cellrun/internal/service"
	"cellrun/internal/session"
	"cellrun/internal/store"
	"cellrun/internal/terminal"
)

var version = "0.1.0"

// interruptGrace bounds how long the first interrupt may take before the run
// is aborted.
const interruptGrace = 30 * time.Second

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "config file path (default ~/.cellrun/config.yaml)",
	}
	return &cli.App{
		Name:  "cellrun",
		Usage: "Run notebook cells against a compute session",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Execute every cell of a notebook in order",
				ArgsUsage: "<notebook.hcl>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "profile", Usage: "connection profile to use"},
					&cli.StringFlag{Name: "html-dir", Usage: "directory for rich HTML outputs"},
					&cli.BoolFlag{Name: "live", Usage: "print log lines as they arrive"},
				},
				Action: runNotebookCommand,
			},
			{
				Name:   "setup",
				Usage:  "Create or update config file",
				Action: runSetupCommand,
			},
			{
				Name:  "config",
				Usage: "Manage stored settings",
				Subcommands: []*cli.Command{
					{Name: "get", Usage: "Print a setting", ArgsUsage: "<key>", Action: runConfigGetCommand},
					{Name: "set", Usage: "Store a setting", ArgsUsage: "<key> <value>", Action: runConfigSetCommand},
					{Name: "unset", Usage: "Remove a setting", ArgsUsage: "<key>", Action: runConfigUnsetCommand},
					{Name: "list", Usage: "List stored settings", Action: runConfigListCommand},
				},
			},
			{
				Name:   "version",
				Usage:  "Show cellrun version",
				Action: runVersionCommand,
			},
		},
	}
}

func runNotebookCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: cellrun run <notebook.hcl>", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(logger)

	cells, err := notebook.Load(c.Args().First())
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer st.Close()

	sm := session.NewManager(processFactory(cfg, st), cfg.Session.Profile)
	defer sm.Close()
	if p := c.String("profile"); p != "" {
		sm.SetProfile(p)
	}

	if dir := c.String("html-dir"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create html dir: %w", err)
		}
	}
	host := terminal.New(os.Stdout, terminal.Options{
		HTMLDir:  c.String("html-dir"),
		LiveLogs: c.Bool("live"),
		MaxChunk: cfg.Stream.MaxChunkBytes,
	})
	orch := service.NewOrchestrator(
		sm,
		host,
		store.RichOutputSetting{Store: st, Fallback: cfg.Render.RichOutput},
		func(o *service.Options) {
			o.Logger = logger
			if c.Bool("live") {
				o.OnLog = host.StreamLogs
			}
		},
	)

	ctx, stop := context.WithCancel(c.Context)
	defer stop()
	go interruptOnSignal(ctx, orch, stop)

	logger.Info("notebook loaded", "path", c.Args().First(), "cells", len(cells), "profile", sm.Profile())
	report, err := orch.Execute(ctx, cells)
	if errors.Is(err, service.ErrSetupFailed) {
		// already reported through the host
		return cli.Exit("", 1)
	}
	if err != nil {
		return err
	}
	failed := 0
	for _, e := range report.Executions {
		if e.Err != nil {
			failed++
		}
	}
	fmt.Printf("%d/%d cells executed, %d failed", len(report.Executions), len(cells), failed)
	if report.Interrupted {
		fmt.Print(" (interrupted)")
	}
	fmt.Println()
	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

// interruptOnSignal asks the orchestrator to stop after the running cell on
// the first signal. A second signal, or an interrupt that has not taken effect
// within interruptGrace, aborts the run.
func interruptOnSignal(ctx context.Context, orch *service.Orchestrator, abort context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	interrupted := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			if interrupted {
				slog.Warn("second interrupt, aborting")
				abort()
				return
			}
			interrupted = true
			sig := orch.Interrupt(ctx)
			go func() {
				wctx, cancel := context.WithTimeout(ctx, interruptGrace)
				defer cancel()
				if err := sig.Wait(wctx); errors.Is(err, context.DeadlineExceeded) {
					slog.Warn("interrupt did not take effect, aborting", "grace", interruptGrace)
					abort()
				}
			}()
		}
	}
}

// processFactory builds process sessions. Stored settings of the form
// profile.<name>.command and profile.<name>.args override the config file for
// that profile; args are comma-separated like session.args.
func processFactory(cfg config.Config, st *store.SQLiteStore) session.Factory {
	return func(ctx context.Context, profile string) (session.Session, error) {
		pc := executor.ProcessConfig{
			Binary:    cfg.Session.Command,
			Args:      cfg.Session.Args,
			SetupCode: cfg.Session.SetupCode,
			Workdir:   cfg.Session.Workdir,
			Timeout:   cfg.Session.Timeout,
		}
		if v, ok, err := st.GetSetting(ctx, "profile."+profile+".command"); err != nil {
			return nil, err
		} else if ok {
			pc.Binary = v
		}
		if v, ok, err := st.GetSetting(ctx, "profile."+profile+".args"); err != nil {
			return nil, err
		} else if ok {
			pc.Args = config.SplitList(v)
		}
		return executor.NewProcessSession(pc), nil
	}
}

func runConfigGetCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: cellrun config get <key>", 2)
	}
	st, _, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()
	v, ok, err := st.GetSetting(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	if !ok {
		return cli.Exit("setting not found: "+c.Args().First(), 1)
	}
	fmt.Println(v)
	return nil
}

func runConfigSetCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: cellrun config set <key> <value>", 2)
	}
	st, _, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.SetSetting(c.Context, c.Args().Get(0), c.Args().Get(1))
}

func runConfigUnsetCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: cellrun config unset <key>", 2)
	}
	st, _, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.DeleteSetting(c.Context, c.Args().First())
}

func runConfigListCommand(c *cli.Context) error {
	st, cfg, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()
	settings, err := st.Settings(c.Context)
	if err != nil {
		return err
	}
	if _, ok, _ := st.GetSetting(c.Context, store.SettingRichOutput); !ok {
		fmt.Printf("%s=%t (config)\n", store.SettingRichOutput, cfg.Render.RichOutput)
	}
	for _, s := range settings {
		fmt.Printf("%s=%s\n", s.Key, s.Value)
	}
	return nil
}

func runVersionCommand(c *cli.Context) error {
	fmt.Println(version)
	return nil
}

func runSetupCommand(c *cli.Context) error {
	cfgPath, err := resolveConfigPath(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("Config path: %s\n", cfgPath)
	def := config.Default()
	command := promptString(reader, "session.command", def.Session.Command)
	args := promptString(reader, "session.args", strings.Join(def.Session.Args, ","))
	richOutput := promptString(reader, "render.rich_output", "true")
	dbPath := promptString(reader, "storage.sqlite_path", filepath.Join(filepath.Dir(cfgPath), "cellrun.db"))

	content := fmt.Sprintf(`session:
  profile: "default"
  command: "%s"
  args: "%s"
  timeout: "30m"

render:
  rich_output: %s

stream:
  max_chunk_bytes: 3500

storage:
  sqlite_path: "%s"

log:
  level: "info"
  format: "text"
`, escapeYAML(command), escapeYAML(args), richOutput, escapeYAML(dbPath))

	if err := os.WriteFile(cfgPath, []byte(content), 0o640); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("Config written: %s\n", cfgPath)
	return nil
}

func openStore(c *cli.Context) (*store.SQLiteStore, config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, config.Config{}, err
	}
	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, config.Config{}, err
	}
	return st, cfg, nil
}

func loadConfig(c *cli.Context) (config.Config, error) {
	path, err := resolveConfigPath(c)
	if err != nil {
		return config.Config{}, err
	}
	if !fileExists(path) {
		if c.String("config") != "" {
			return config.Config{}, fmt.Errorf("config file not found: %s", path)
		}
		path = ""
	}
	return config.Load(path)
}

func resolveConfigPath(c *cli.Context) (string, error) {
	if p := c.String("config"); p != "" {
		return expandHome(p)
	}
	return expandHome("~/.cellrun/config.yaml")
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		h, err := os.UserHomeDir()
		if err != nil || h == "" {
			return "", errors.New("cannot resolve home directory")
		}
		if path == "~" {
			return h, nil
		}
		return filepath.Join(h, path[2:]), nil
	}
	return path, nil
}

func promptString(r *bufio.Reader, label, defaultVal string) string {
	if defaultVal == "" {
		fmt.Printf("%s: ", label)
	} else {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return defaultVal
	}
	v := strings.TrimSpace(line)
	if v == "" {
		return defaultVal
	}
	return v
}

func escapeYAML(v string) string {
	return strings.ReplaceAll(v, "\"", "\\\"")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
