package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

type fileConfig struct {
	Store    string                `toml:"store"`
	Owner    string                `toml:"owner"`
	TZ       string                `toml:"tz"`
	Output   string                `toml:"output"`
	Fields   string                `toml:"fields"`
	Profile  string                `toml:"profile"`
	Horizon  int                   `toml:"horizon"`
	MaxSlots int                   `toml:"max_slots"`
	Grace    string                `toml:"grace"`
	Profiles map[string]fileConfig `toml:"profiles"`
}

func resolveGlobalOptions(cmd *cobra.Command, defaults *globalOptions) (*globalOptions, error) {
	resolved := *defaults

	profile := firstNonEmpty(env("TEMPO_PROFILE"), defaults.Profile)
	if flagValueChanged(cmd, "profile") {
		profile = defaults.Profile
	}
	if profile == "" {
		profile = "default"
	}
	resolved.Profile = profile

	userPath := defaultUserConfigPath()
	projectPath := ".tempo.toml"
	configPath := firstNonEmpty(env("TEMPO_CONFIG"), userPath)
	if flagValueChanged(cmd, "config") {
		configPath = defaults.Config
	}

	for _, path := range []string{userPath, projectPath} {
		cfg, ok, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := applyFileConfig(&resolved, cfg, profile); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	if configPath != "" && configPath != userPath && configPath != projectPath {
		cfg, ok, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := applyFileConfig(&resolved, cfg, profile); err != nil {
				return nil, fmt.Errorf("%s: %w", configPath, err)
			}
		}
	}

	if err := applyEnv(&resolved); err != nil {
		return nil, err
	}
	applyFlags(cmd, &resolved, defaults)

	if resolved.Config == "" {
		resolved.Config = configPath
	}
	return &resolved, nil
}

func applyFileConfig(dst *globalOptions, cfg fileConfig, profile string) error {
	if p, ok := cfg.Profiles[profile]; ok {
		cfg = mergeFileConfig(cfg, p)
	}
	if cfg.Store != "" {
		dst.Store = cfg.Store
	}
	if cfg.Owner != "" {
		dst.Owner = cfg.Owner
	}
	if cfg.TZ != "" {
		dst.TZ = cfg.TZ
	}
	if cfg.Fields != "" {
		dst.Fields = cfg.Fields
	}
	if cfg.Horizon != 0 {
		dst.Horizon = cfg.Horizon
	}
	if cfg.MaxSlots != 0 {
		dst.MaxSlots = cfg.MaxSlots
	}
	if cfg.Grace != "" {
		d, err := time.ParseDuration(cfg.Grace)
		if err != nil {
			return fmt.Errorf("invalid grace: %w", err)
		}
		dst.Grace = d
	}
	setOutputMode(dst, cfg.Output)
	return nil
}

func mergeFileConfig(base, overlay fileConfig) fileConfig {
	if overlay.Store != "" {
		base.Store = overlay.Store
	}
	if overlay.Owner != "" {
		base.Owner = overlay.Owner
	}
	if overlay.TZ != "" {
		base.TZ = overlay.TZ
	}
	if overlay.Output != "" {
		base.Output = overlay.Output
	}
	if overlay.Fields != "" {
		base.Fields = overlay.Fields
	}
	if overlay.Horizon != 0 {
		base.Horizon = overlay.Horizon
	}
	if overlay.MaxSlots != 0 {
		base.MaxSlots = overlay.MaxSlots
	}
	if overlay.Grace != "" {
		base.Grace = overlay.Grace
	}
	return base
}

func applyEnv(dst *globalOptions) error {
	if v := env("TEMPO_STORE"); v != "" {
		dst.Store = v
	}
	if v := env("TEMPO_OWNER"); v != "" {
		dst.Owner = v
	}
	if v := env("TEMPO_TIMEZONE"); v != "" {
		dst.TZ = v
	}
	if v := env("TEMPO_FIELDS"); v != "" {
		dst.Fields = v
	}
	setOutputMode(dst, env("TEMPO_OUTPUT"))
	if v := env("TEMPO_HORIZON"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TEMPO_HORIZON: %w", err)
		}
		dst.Horizon = n
	}
	if v := env("TEMPO_MAX_SLOTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TEMPO_MAX_SLOTS: %w", err)
		}
		dst.MaxSlots = n
	}
	if v := env("TEMPO_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid TEMPO_GRACE: %w", err)
		}
		dst.Grace = d
	}
	return nil
}

func setOutputMode(dst *globalOptions, mode string) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "json":
		dst.JSON, dst.JSONL, dst.Plain = true, false, false
	case "jsonl":
		dst.JSON, dst.JSONL, dst.Plain = false, true, false
	case "plain":
		dst.JSON, dst.JSONL, dst.Plain = false, false, true
	}
}

func applyFlags(cmd *cobra.Command, dst, fromFlags *globalOptions) {
	copyIfChanged(cmd, "json", func() { dst.JSON = fromFlags.JSON })
	copyIfChanged(cmd, "jsonl", func() { dst.JSONL = fromFlags.JSONL })
	copyIfChanged(cmd, "plain", func() { dst.Plain = fromFlags.Plain })
	copyIfChanged(cmd, "fields", func() { dst.Fields = fromFlags.Fields })
	copyIfChanged(cmd, "quiet", func() { dst.Quiet = fromFlags.Quiet })
	copyIfChanged(cmd, "verbose", func() { dst.Verbose = fromFlags.Verbose })
	copyIfChanged(cmd, "no-color", func() { dst.NoColor = fromFlags.NoColor })
	copyIfChanged(cmd, "profile", func() { dst.Profile = fromFlags.Profile })
	copyIfChanged(cmd, "config", func() { dst.Config = fromFlags.Config })
	copyIfChanged(cmd, "store", func() { dst.Store = fromFlags.Store })
	copyIfChanged(cmd, "owner", func() { dst.Owner = fromFlags.Owner })
	copyIfChanged(cmd, "tz", func() { dst.TZ = fromFlags.TZ })
	copyIfChanged(cmd, "timeout", func() { dst.Timeout = fromFlags.Timeout })
	copyIfChanged(cmd, "schema-version", func() { dst.SchemaVersion = fromFlags.SchemaVersion })
	copyIfChanged(cmd, "horizon", func() { dst.Horizon = fromFlags.Horizon })
	copyIfChanged(cmd, "max-slots", func() { dst.MaxSlots = fromFlags.MaxSlots })
	copyIfChanged(cmd, "grace", func() { dst.Grace = fromFlags.Grace })

	// If exactly one output mode flag is explicitly set, it overrides env/config output mode.
	modeSet := 0
	for _, name := range []string{"json", "jsonl", "plain"} {
		if flagValueChanged(cmd, name) {
			modeSet++
		}
	}
	if modeSet == 1 {
		switch {
		case flagValueChanged(cmd, "json") && fromFlags.JSON:
			setOutputMode(dst, "json")
		case flagValueChanged(cmd, "jsonl") && fromFlags.JSONL:
			setOutputMode(dst, "jsonl")
		case flagValueChanged(cmd, "plain") && fromFlags.Plain:
			setOutputMode(dst, "plain")
		}
	}
}

func copyIfChanged(cmd *cobra.Command, name string, fn func()) {
	if flagValueChanged(cmd, name) {
		fn()
	}
}

func flagValueChanged(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		return true
	}
	if f := cmd.InheritedFlags().Lookup(name); f != nil && f.Changed {
		return true
	}
	return false
}

// readConfigFile reports a missing file as absent; a malformed one is an error.
func readConfigFile(path string) (fileConfig, bool, error) {
	if strings.TrimSpace(path) == "" {
		return fileConfig{}, false, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fileConfig{}, false, nil
	}
	if err != nil {
		return fileConfig{}, false, err
	}
	var cfg fileConfig
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return fileConfig{}, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, true, nil
}

func defaultUserConfigPath() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "tempo", "config.toml")
	}
	home := strings.TrimSpace(os.Getenv("HOME"))
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "tempo", "config.toml")
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
