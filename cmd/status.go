package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/caedis/gamelauncher/internal/diff"
	"github.com/caedis/gamelauncher/internal/launcher"
	"github.com/caedis/gamelauncher/internal/patch"
)

var statusFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the launcher would do next",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(statusFormat)
		if err != nil {
			return wrapUsageError(err)
		}
		a := newApp()
		cfg, st, err := a.resolve(cmd.Context())
		if err != nil {
			return err
		}
		view, err := newStatusView(a.fs, cfg.TempDir(), st)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), format, view)
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "text", "Output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}

type statusView struct {
	Kind      string         `json:"kind" yaml:"kind"`
	Summary   string         `json:"summary" yaml:"summary"`
	Resumable bool           `json:"resumable,omitempty" yaml:"resumable,omitempty"`
	State     map[string]any `json:"state" yaml:"state"`
}

func newStatusView(fsys afero.Fs, tempDir string, st launcher.State) (statusView, error) {
	raw, err := launcher.MarshalState(st)
	if err != nil {
		return statusView{}, err
	}
	var details map[string]any
	if err := json.Unmarshal(raw, &details); err != nil {
		return statusView{}, err
	}
	view := statusView{Kind: string(st.Kind()), State: details}
	if d := stateDiff(st); d != nil {
		view.Resumable = launcher.Resumable(fsys, tempDir, d)
	}
	view.Summary = describe(st, view.Resumable)
	return view, nil
}

func (v statusView) String() string {
	return v.Summary
}

func stateDiff(st launcher.State) diff.VersionDiff {
	switch s := st.(type) {
	case launcher.GameNotInstalled:
		return s.Diff
	case launcher.VoiceNotInstalled:
		return s.Diff
	case launcher.GameUpdateAvailable:
		return s.Diff
	case launcher.VoiceUpdateAvailable:
		return s.Diff
	}
	return nil
}

func describe(st launcher.State, resumable bool) string {
	verb := "download"
	if resumable {
		verb = "resume"
	}
	switch s := st.(type) {
	case launcher.FolderMigrationRequired:
		return fmt.Sprintf("Game files must be moved from %s to %s", s.From, s.To)
	case launcher.WineNotInstalled:
		return "No Wine runtime is installed; run will download one"
	case launcher.PrefixNotExists:
		return "The Wine prefix does not exist; run will create it"
	case launcher.GameNotInstalled:
		return fmt.Sprintf("Game is not installed: %s version %s (%s)", verb, s.Diff.Latest, formatBytes(s.Diff.SizeEstimate()))
	case launcher.VoiceNotInstalled:
		return fmt.Sprintf("Voice pack %s is not installed: %s version %s (%s)", s.Diff.Target.Locale, verb, s.Diff.Latest, formatBytes(s.Diff.SizeEstimate()))
	case launcher.GameOutdated:
		return fmt.Sprintf("Game version %s is too old to update to %s; reinstall it", s.Diff.Current, s.Diff.Latest)
	case launcher.VoiceOutdated:
		return fmt.Sprintf("Voice pack %s version %s is too old to update to %s; remove and add it again", s.Diff.Target.Locale, s.Diff.Current, s.Diff.Latest)
	case launcher.GameUpdateAvailable:
		return fmt.Sprintf("Game update available: %s -> %s (%s, %s)", s.Diff.Current, s.Diff.Latest, verb, formatBytes(s.Diff.SizeEstimate()))
	case launcher.VoiceUpdateAvailable:
		return fmt.Sprintf("Voice pack %s update available: %s -> %s (%s, %s)", s.Diff.Target.Locale, s.Diff.Current, s.Diff.Latest, verb, formatBytes(s.Diff.SizeEstimate()))
	case launcher.UnityPlayerPatchAvailable:
		return describePatch(s.Patch)
	case launcher.XluaPatchAvailable:
		return describePatch(s.Patch)
	case launcher.PredownloadAvailable:
		var parts []string
		if s.Game != nil {
			parts = append(parts, fmt.Sprintf("game %s (%s)", s.Game.Latest, formatBytes(s.Game.SizeEstimate())))
		}
		for _, v := range s.Voices {
			parts = append(parts, fmt.Sprintf("voice %s (%s)", v.Target.Locale, formatBytes(v.SizeEstimate())))
		}
		return "Ready to launch; predownload available for " + strings.Join(parts, ", ")
	case launcher.Launch:
		return "Ready to launch"
	default:
		return string(st.Kind())
	}
}

func describePatch(info patch.Info) string {
	if info.Status == nil {
		info.Status = patch.NotAvailable{}
	}
	if patch.Blocking(info.Status) {
		return fmt.Sprintf("The %s patch is %s; the game cannot be launched yet", info.Kind, patch.StatusName(info.Status))
	}
	return fmt.Sprintf("The %s patch is %s and not applied", info.Kind, patch.StatusName(info.Status))
}
