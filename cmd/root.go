package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/logging"
	"github.com/caedis/gamelauncher/internal/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath   string
	githubToken  string
	profileName  string
	verbose      bool
	logFile      string
	autoDownload bool
	autoPatch    bool
)

var rootCmd = &cobra.Command{
	Use:           "gamelauncher",
	Short:         "Install, update and launch the game under Wine",
	Long:          "Resolve what the game installation needs next (runtime, prefix, game and voice updates, patches) and carry it out.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if profileName != "" {
			p, err := profile.Load(profileName)
			if err != nil {
				return err
			}
			applyProfile(cmd.Flags(), p)
		}

		logging.SetVerbose(verbose)
		if err := logging.SetOutputFile(logFile); err != nil {
			return fmt.Errorf("opening log file %q: %w", logFile, err)
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeErr := logging.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", closeErr)
		if err == nil {
			os.Exit(1)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if isUsageError(err) {
			if cmd, _, findErr := rootCmd.Find(os.Args[1:]); findErr == nil && cmd != nil {
				_ = cmd.Usage()
			} else {
				_ = rootCmd.Usage()
			}
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return wrapUsageError(err)
	})

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Launcher config file")
	rootCmd.PersistentFlags().StringVar(&githubToken, "github-token", "", "GitHub token for runtime release lookups (also reads GITHUB_TOKEN env)")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Load a saved option profile by name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write command output to a log file")
}

// applyProfile copies profile values into flags the user did not set.
// Flags the running command does not define are skipped.
func applyProfile(flags *pflag.FlagSet, p *profile.Profile) {
	set := func(name string, value *string) {
		if value == nil {
			return
		}
		if f := flags.Lookup(name); f != nil && !f.Changed {
			_ = f.Value.Set(*value)
		}
	}
	set("config", p.Config)
	set("log-file", p.LogFile)
	set("verbose", boolString(p.Verbose))
	set("auto-download", boolString(p.AutoDownload))
	set("auto-patch", boolString(p.AutoPatch))
}

func boolString(b *bool) *string {
	if b == nil {
		return nil
	}
	s := strconv.FormatBool(*b)
	return &s
}

func getGithubToken() string {
	if githubToken != "" {
		return githubToken
	}
	return os.Getenv("GITHUB_TOKEN")
}

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func wrapUsageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if validate == nil {
			return nil
		}
		if err := validate(cmd, args); err != nil {
			return wrapUsageError(err)
		}
		return nil
	}
}

func isUsageError(err error) bool {
	var ue *usageError
	if errors.As(err, &ue) {
		return true
	}

	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command ")
}
