package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cercasp-go/internal/app"
	"cercasp-go/internal/cercasp"
	"cercasp-go/internal/config"
	"cercasp-go/internal/encryption"
	"cercasp-go/internal/validate"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// loadConfig reads the config file and overlays the environment.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, "", err
	}
	return cfg, defaults.ConfigPath, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// needPassphrase resolves the field passphrase first, prompting if required.
func newApp(ctx context.Context, operation string, needPassphrase bool) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	opts := app.Options{LogLevel: slog.LevelInfo}
	if verbose {
		opts.LogLevel = slog.LevelDebug
		opts.Console = os.Stderr
	}
	if needPassphrase {
		p, err := app.ResolvePassphrase(cfg.Crypto, os.Getenv, os.Stdin, os.Stderr)
		if err != nil {
			return nil, err
		}
		opts.Passphrase = p
	}

	a, err := app.NewApp(ctx, cfg, operation, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// runApp wraps a command body with app setup, failure tracking and Close.
func runApp(operation string, needPassphrase bool, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, operation, needPassphrase)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		a.Fail(err)
		return err
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:          "cercasp",
	Short:        "Encrypted clinical record keeping with offline sync",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Instance ID:  %s\n", cfg.InstanceID)
		fmt.Printf("Environment:  %s\n", cfg.Environment)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Queue:        %s\n", cfg.Queue.Type)
		fmt.Printf("Remote:       %s\n", cfg.Remote.Type)
		fmt.Printf("Vault:        %s (%s)\n", cfg.Vault.Name, cfg.Vault.Type)
		fmt.Printf("Session:      %s timeout\n", cfg.SessionTimeout())
		if len(cfg.Session.AllowedIPRanges) > 0 {
			fmt.Printf("Allowed IPs:  %s\n", strings.Join(cfg.Session.AllowedIPRanges, ", "))
		}
		return nil
	},
}

// crypto command
var cryptoCmd = &cobra.Command{
	Use:   "crypto",
	Short: "Encrypt, decrypt and digest single values",
}

func cryptoBox() (*encryption.CryptoBox, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	box, err := encryption.NewCryptoBoxFromConfig(cfg.Crypto, cercasp.NewNopLogger())
	if err != nil {
		return nil, err
	}
	p, err := app.ResolvePassphrase(cfg.Crypto, os.Getenv, os.Stdin, os.Stderr)
	if err != nil {
		return nil, err
	}
	if err := box.Initialize(p); err != nil {
		return nil, err
	}
	return box, nil
}

var cryptoEncryptCmd = &cobra.Command{
	Use:   "encrypt VALUE",
	Short: "Encrypt a value with the field key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		box, err := cryptoBox()
		if err != nil {
			return err
		}
		out, err := box.Encrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var cryptoDecryptCmd = &cobra.Command{
	Use:   "decrypt BLOB",
	Short: "Decrypt a value produced by encrypt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		box, err := cryptoBox()
		if err != nil {
			return err
		}
		out, err := box.Decrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var cryptoDigestCmd = &cobra.Command{
	Use:   "digest TEXT",
	Short: "Print the SHA-256 of TEXT as hex",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(encryption.Digest(args[0]))
	},
}

var cryptoKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a random 256-bit key as hex",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := encryption.GenerateRandomKey()
		if err != nil {
			return err
		}
		fmt.Println(k)
		return nil
	},
}

// validate command
var validateCmd = &cobra.Command{
	Use:   "validate KIND VALUE",
	Short: "Check a value against a field format",
	Long:  "Check a value against a field format. KIND is one of: " + strings.Join(validate.Kinds(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := validate.Check(args[0], args[1])
		if err != nil {
			return err
		}
		if !res.Valid {
			return fmt.Errorf("%s", res.Message)
		}
		fmt.Println("OK")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// crypto subcommands
	cryptoCmd.AddCommand(cryptoEncryptCmd)
	cryptoCmd.AddCommand(cryptoDecryptCmd)
	cryptoCmd.AddCommand(cryptoDigestCmd)
	cryptoCmd.AddCommand(cryptoKeygenCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cryptoCmd)
	rootCmd.AddCommand(validateCmd)
}
