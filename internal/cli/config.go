package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"kinforge/internal/model"
	"kinforge/internal/store"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage kinforge configuration",
	Long: `Manage the configuration file and the runtime threshold overrides
stored in the database.

Configuration hierarchy (highest to lowest priority):
1. Stored threshold overrides (kinforge config set)
2. Environment variables (KINFORGE_*)
3. Config file (~/.kinforge/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if file := viper.ConfigFileUsed(); file != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", file)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("find home directory: %w", err)
		}
		dir := filepath.Join(home, ".kinforge")
		path := filepath.Join(dir, "config.yaml")

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		data, err := yaml.Marshal(model.DefaultConfig())
		if err != nil {
			return fmt.Errorf("marshal defaults: %w", err)
		}
		header := "# Kinforge configuration.\n" +
			"# Secrets stay out of this file: set OPENAI_API_KEY and\n" +
			"# KINFORGE_SSOT_TOKEN in the environment instead.\n\n"
		if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		fmt.Printf("✓ Created default configuration: %s\n", path)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a stored threshold override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		key := args[0]
		if !store.KnownSetting(key) {
			return fmt.Errorf("unknown setting %q", key)
		}
		value, err := a.st.GetSetting(context.Background(), key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				fmt.Printf("%s is not overridden (config default applies)\n", key)
				return nil
			}
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a threshold override",
	Long: `Set stores a typed threshold override in the database. Overrides
apply to every subsequent run until removed.

Example:
  kinforge config set confidence_threshold_auto_store 0.9`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		if err := a.st.SetSetting(ctx, args[0], args[1]); err != nil {
			return err
		}
		entry := model.NewAuditEntry("setting_changed", "setting", args[0]).With("value", args[1])
		if err := a.st.Append(ctx, entry); err != nil {
			return err
		}
		fmt.Printf("✓ %s = %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}
