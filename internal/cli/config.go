package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/matzehuels/kmsgrab/pkg/bufimport"
	"github.com/matzehuels/kmsgrab/pkg/cache"
	"github.com/matzehuels/kmsgrab/pkg/errors"
	"github.com/matzehuels/kmsgrab/pkg/sink"
)

const (
	// defaultServeAddr is the listen address of the capture server.
	defaultServeAddr = "127.0.0.1:8099"

	// defaultCacheTTL is how long served captures stay fetchable by id.
	defaultCacheTTL = "10m"
)

// Config is the persistent configuration read from config.toml. Command-line
// flags override it.
type Config struct {
	// Device is the DRM node to open; empty selects the first that opens.
	Device string `toml:"device"`
	// Output is the capture path; empty derives it from the format.
	Output   string      `toml:"output"`
	Format   string      `toml:"format"`
	Strategy string      `toml:"strategy"`
	Retries  int         `toml:"retries"`
	Serve    ServeConfig `toml:"serve"`
}

// ServeConfig configures the capture server.
type ServeConfig struct {
	Addr string `toml:"addr"`
	// Cache is "none", "file", or a redis:// or mongodb:// URL.
	Cache    string `toml:"cache"`
	CacheTTL string `toml:"cache_ttl"`
}

// TTL returns the parsed cache_ttl. Validate has already checked it.
func (s ServeConfig) TTL() time.Duration {
	d, _ := time.ParseDuration(s.CacheTTL)
	return d
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Format:   sink.DefaultFormat,
		Strategy: bufimport.StrategyAuto.String(),
		Retries:  defaultRetries,
		Serve:    ServeConfig{Addr: defaultServeAddr, CacheTTL: defaultCacheTTL},
	}
}

// Validate checks the configured values.
func (c Config) Validate() error {
	if err := sink.ValidateFormat(c.Format); err != nil {
		return err
	}
	if _, err := bufimport.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.Retries < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "retries must be >= 0, got %d", c.Retries)
	}
	if !cache.Valid(c.Serve.Cache) {
		return errors.New(errors.ErrCodeInvalidInput, "invalid serve.cache: %q (want none, file, redis://... or mongodb://...)", c.Serve.Cache)
	}
	if d, err := time.ParseDuration(c.Serve.CacheTTL); err != nil || d < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid serve.cache_ttl: %q", c.Serve.CacheTTL)
	}
	return nil
}

// configPath returns the config file using XDG standard
// (~/.config/kmsgrab/config.toml).
func configPath() (string, error) {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// cacheDir returns the directory of the file capture cache
// (~/.cache/kmsgrab/captures).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName, "captures"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName, "captures"), nil
}

// LoadConfig reads path, or the default location when path is empty. A
// missing default file yields DefaultConfig; a missing explicit file is an
// error. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		p, err := configPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return DefaultConfig(), nil
		}
		return cfg, errors.Wrap(errors.ErrCodeInvalidInput, err, "read config %s", path)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return cfg, errors.New(errors.ErrCodeInvalidInput, "config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(errors.ErrCodeInvalidInput, err, "config %s", path)
	}
	return cfg, nil
}

// =============================================================================
// Commands
// =============================================================================

// configCommand creates the config inspection command.
func (c *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(c.configPathCommand())
	cmd.AddCommand(c.configShowCommand())

	return cmd
}

// configPathCommand creates the "config path" subcommand.
func (c *CLI) configPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.configFile != "" {
				fmt.Println(c.configFile)
				return nil
			}
			path, err := configPath()
			if err != nil {
				return fmt.Errorf("get config path: %w", err)
			}
			fmt.Println(path)
			return nil
		},
	}
}

// configShowCommand creates the "config show" subcommand.
func (c *CLI) configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(c.Config)
		},
	}
}
