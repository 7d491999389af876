package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caedis/gamelauncher/internal/actions"
	"github.com/caedis/gamelauncher/internal/controller"
	"github.com/caedis/gamelauncher/internal/events"
	"github.com/caedis/gamelauncher/internal/launcher"
	"github.com/caedis/gamelauncher/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Carry out what the installation needs, then launch the game",
	Long: `Resolves the launcher state and performs its action. Setup steps (moving
old game files, downloading a Wine runtime, creating the prefix) always chain
into the next one. After a download or patch, run stops unless --auto-download
or --auto-patch asks it to continue.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := controller.Options{
			PerformOnDownloadNeeded: autoDownload,
			ApplyPatchIfNeeded:      autoPatch,
		}
		return runSession(cmd.Context(), newApp(), opts, runStepper(opts))
	},
}

func init() {
	runCmd.Flags().BoolVar(&autoDownload, "auto-download", false, "Keep downloading while more game or voice updates are needed")
	runCmd.Flags().BoolVar(&autoPatch, "auto-patch", false, "Apply available patches after downloads")
	rootCmd.AddCommand(runCmd)
}

func runStepper(opts controller.Options) stepper {
	first := true
	return func(ctx context.Context, s *session, env events.Envelope) (bool, error) {
		switch env.Type {
		case events.TypeStateResolved:
			st, err := s.state(env)
			if err != nil {
				return true, err
			}
			initial := first
			first = false

			if !launcher.Actionable(st) {
				return true, fmt.Errorf("%s: %w", describe(st, false), actions.ErrNotActionable)
			}
			if !initial {
				switch {
				case launcher.NeedsDownload(st) && !opts.PerformOnDownloadNeeded:
					logging.Infof("%s\nRun again or pass --auto-download to continue.\n", describe(st, false))
					return true, nil
				case launcher.IsPatch(st) && !opts.ApplyPatchIfNeeded:
					logging.Infof("%s\nRun again or pass --auto-patch to apply it.\n", describe(st, false))
					return true, nil
				}
			}
			return false, s.perform(ctx, st)

		case events.TypeActionCompleted:
			var p events.ActionCompleted
			if err := env.Decode(&p); err != nil {
				return true, err
			}
			return p.Kind == string(actions.KindLaunch), nil
		}
		return false, nil
	}
}
