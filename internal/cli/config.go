package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/alnah/go-corpus/internal/config"
)

// ConfigCmd creates the config command with subcommands.
// The env parameter provides injectable dependencies for testing.
func ConfigCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long: `Manage persistent export defaults.

Configuration is stored in ~/.config/go-corpus/config.
Settings can also be provided via environment variables.
Command line flags always take precedence.

Supported settings:
  target-dir       Default --target-dir (env: CORPUS_TARGET_DIR)
  workers          Default --workers (env: CORPUS_WORKERS)
  buffer           Default --buffer (env: CORPUS_BUFFER)
  sdb-audio-type   Default --sdb-audio-type (env: CORPUS_SDB_AUDIO_TYPE)
  log-level        Default --log-level (env: CORPUS_LOG_LEVEL)`,
		Example: `  corpus config set target-dir ~/corpora
  corpus config set workers 8
  corpus config get target-dir
  corpus config list`,
	}

	cmd.AddCommand(configSetCmd(env))
	cmd.AddCommand(configGetCmd(env))
	cmd.AddCommand(configListCmd(env))

	return cmd
}

// configSetCmd creates the "config set" subcommand.
func configSetCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value.

The value is validated like the matching export flag. A target directory
must already exist.`,
		Example: `  corpus config set target-dir ~/corpora
  corpus config set sdb-audio-type wav`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(env, args[0], args[1])
		},
	}
}

// configGetCmd creates the "config get" subcommand.
func configGetCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Long: `Get a configuration value.

Prints the value to stdout, or nothing if not set.`,
		Example: `  corpus config get workers`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(env, args[0])
		},
	}
}

// configListCmd creates the "config list" subcommand.
func configListCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		Long: `List all configuration values.

Shows both values from the config file and environment variable overrides.`,
		Example: `  corpus config list`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigList(env)
		},
	}
}

// runConfigSet handles the "config set" command.
func runConfigSet(env *Env, key, value string) error {
	if !isValidConfigKey(key) {
		return fmt.Errorf("%w %q (valid keys: %v)", config.ErrUnknownKey, key, config.Keys)
	}

	normalized, err := config.Normalize(key, value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}

	if err := config.Save(key, normalized); err != nil {
		return err
	}

	fmt.Fprintf(env.Stderr, "Set %s = %s\n", key, normalized)
	return nil
}

// runConfigGet handles the "config get" command.
func runConfigGet(env *Env, key string) error {
	if !isValidConfigKey(key) {
		return fmt.Errorf("%w %q (valid keys: %v)", config.ErrUnknownKey, key, config.Keys)
	}

	value, err := config.Get(key)
	if err != nil {
		return err
	}

	if value == "" {
		if name, ok := config.EnvVar(key); ok {
			value = env.Getenv(name)
		}
	}

	if value != "" {
		fmt.Fprintln(env.Stdout, value)
	}

	return nil
}

// runConfigList handles the "config list" command.
func runConfigList(env *Env) error {
	data, err := config.List()
	if err != nil {
		return err
	}

	for _, key := range config.Keys {
		if _, ok := data[key]; ok {
			continue
		}
		name, _ := config.EnvVar(key)
		if envVal := env.Getenv(name); envVal != "" {
			data[key] = envVal + " (from env)"
		}
	}

	if len(data) == 0 {
		fmt.Fprintln(env.Stdout, "No configuration set.")
		fmt.Fprintln(env.Stdout, "\nAvailable settings:")
		for _, key := range config.Keys {
			fmt.Fprintf(env.Stdout, "  %s\n", key)
		}
		return nil
	}

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		fmt.Fprintf(env.Stdout, "%s=%s\n", key, data[key])
	}

	return nil
}

// isValidConfigKey checks if a key is a valid configuration key.
func isValidConfigKey(key string) bool {
	return slices.Contains(config.Keys, key)
}
