package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Session SessionConfig
	Render  RenderConfig
	Stream  StreamConfig
	Storage StorageConfig
	Log     LogConfig
}

type SessionConfig struct {
	Profile   string
	Command   string
	Args      []string
	SetupCode string
	Workdir   string
	Timeout   time.Duration
}

type RenderConfig struct {
	RichOutput bool
}

type StreamConfig struct {
	MaxChunkBytes int
}

type StorageConfig struct {
	SQLitePath string
}

type LogConfig struct {
	Level  string
	Format string
}

func Default() Config {
	return Config{
		Session: SessionConfig{
			Profile: "default",
			Command: "sas",
			Args:    []string{"-stdio", "-nonews"},
			Timeout: 30 * time.Minute,
		},
		Render:  RenderConfig{RichOutput: true},
		Stream:  StreamConfig{MaxChunkBytes: 3500},
		Storage: StorageConfig{SQLitePath: "cellrun.db"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadYAMLLike(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	overrideEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Session.Command) == "" {
		return errors.New("session.command is required")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be > 0: got %s", c.Session.Timeout)
	}
	if c.Storage.SQLitePath == "" {
		return errors.New("storage.sqlite_path is required")
	}
	if c.Stream.MaxChunkBytes <= 0 {
		return errors.New("stream.max_chunk_bytes must be > 0")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json: got %q", c.Log.Format)
	}
	return nil
}

func loadYAMLLike(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	section := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, ":") && !strings.Contains(line, " ") {
			section = strings.TrimSuffix(line, ":")
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if err := applyKV(cfg, section, key, val); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan config: %w", err)
	}
	return nil
}

func applyKV(cfg *Config, section, key, val string) error {
	switch section + "." + key {
	case "session.profile":
		cfg.Session.Profile = val
	case "session.command":
		cfg.Session.Command = val
	case "session.args":
		cfg.Session.Args = SplitList(val)
	case "session.setup_code":
		// single line; \n escapes separate statements
		cfg.Session.SetupCode = strings.ReplaceAll(val, `\n`, "\n")
	case "session.workdir":
		cfg.Session.Workdir = val
	case "session.timeout":
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("session.timeout: %w", err)
		}
		cfg.Session.Timeout = d
	case "render.rich_output":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("render.rich_output: %w", err)
		}
		cfg.Render.RichOutput = b
	case "stream.max_chunk_bytes":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("stream.max_chunk_bytes: %w", err)
		}
		cfg.Stream.MaxChunkBytes = n
	case "storage.sqlite_path":
		cfg.Storage.SQLitePath = val
	case "log.level":
		cfg.Log.Level = val
	case "log.format":
		cfg.Log.Format = val
	}
	return nil
}

// SplitList splits a comma-separated value, dropping blank items.
func SplitList(v string) []string {
	items := strings.Split(v, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trim := strings.TrimSpace(item)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}

func overrideEnv(cfg *Config) {
	if v := os.Getenv("CELLRUN_SESSION_COMMAND"); v != "" {
		cfg.Session.Command = v
	}
	if v := os.Getenv("CELLRUN_SESSION_PROFILE"); v != "" {
		cfg.Session.Profile = v
	}
	if v := os.Getenv("CELLRUN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
