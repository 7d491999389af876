package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/diff"
	"github.com/caedis/gamelauncher/internal/install"
	"github.com/caedis/gamelauncher/internal/logging"
)

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Manage installed voice packs",
}

var voiceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List supported voice packs and their installed versions",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		cfg, err := a.store.Get()
		if err != nil {
			return err
		}
		layout := install.NewLayout(a.fs, cfg.Game.Path, cfg.Launcher.Edition)
		for _, locale := range config.SupportedVoices {
			mark := " "
			if cfg.HasVoice(locale) {
				mark = "*"
			}
			installed := "not installed"
			v, err := layout.InstalledVersion(diff.Voice(locale))
			if err != nil {
				installed = err.Error()
			} else if v != nil {
				installed = v.String()
			}
			logging.Infof("%s %s  %s\n", mark, locale, installed)
		}
		return nil
	},
}

var voiceAddCmd = &cobra.Command{
	Use:   "add <locale>",
	Short: "Select a voice pack; run downloads it",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		locale := args[0]
		if !slices.Contains(config.SupportedVoices, locale) {
			return wrapUsageError(fmt.Errorf("unsupported voice %q (supported: %v)", locale, config.SupportedVoices))
		}
		a := newApp()
		cfg, err := a.store.Get()
		if err != nil {
			return err
		}
		if cfg.HasVoice(locale) {
			logging.Infof("Voice %s is already selected.\n", locale)
			return nil
		}
		cfg.Game.Voices = append(cfg.Game.Voices, locale)
		if err := a.store.UpdateRaw(cfg); err != nil {
			return err
		}
		logging.Infof("Voice %s selected. Use run to download it.\n", locale)
		return nil
	},
}

var voiceRemoveCmd = &cobra.Command{
	Use:   "remove <locale>",
	Short: "Deselect a voice pack and delete its files",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		locale := args[0]
		a := newApp()
		cfg, err := a.store.Get()
		if err != nil {
			return err
		}
		if !cfg.HasVoice(locale) {
			return fmt.Errorf("voice %s is not selected", locale)
		}
		cfg.Game.Voices = slices.DeleteFunc(cfg.Game.Voices, func(v string) bool { return v == locale })
		if err := a.store.UpdateRaw(cfg); err != nil {
			return err
		}
		layout := install.NewLayout(a.fs, cfg.Game.Path, cfg.Launcher.Edition)
		if err := layout.RemoveVoice(locale); err != nil {
			return err
		}
		logging.Infof("Voice %s removed.\n", locale)
		return nil
	},
}

func init() {
	voiceCmd.AddCommand(voiceListCmd, voiceAddCmd, voiceRemoveCmd)
	rootCmd.AddCommand(voiceCmd)
}
