package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/caedis/gamelauncher/internal/actions"
	"github.com/caedis/gamelauncher/internal/controller"
	"github.com/caedis/gamelauncher/internal/events"
	"github.com/caedis/gamelauncher/internal/launcher"
	"github.com/caedis/gamelauncher/internal/logging"
)

var predownloadCmd = &cobra.Command{
	Use:   "predownload",
	Short: "Fetch the next game version's archives ahead of its release",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context(), newApp(), controller.Options{}, oneShot(actions.KindPredownload,
			func(ctx context.Context, s *session, st launcher.State) error {
				if _, ok := st.(launcher.PredownloadAvailable); !ok {
					return errNothingToDo
				}
				s.bar.Start("Predownloading")
				return s.ctl.Predownload(ctx)
			}))
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Verify game files and re-download broken ones",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context(), newApp(), controller.Options{}, oneShot(actions.KindRepair,
			func(ctx context.Context, s *session, st launcher.State) error {
				switch st.(type) {
				case launcher.FolderMigrationRequired, launcher.WineNotInstalled, launcher.PrefixNotExists, launcher.GameNotInstalled:
					logging.Infof("%s\n", describe(st, false))
					return errors.New("the game must be installed and set up before it can be repaired")
				}
				s.bar.Start("Verifying game files")
				return s.ctl.Repair(ctx)
			}))
	},
}

var errNothingToDo = errors.New("nothing to do")

// oneShot starts an action once the first state is known and finishes when
// an action of kind completes.
func oneShot(kind actions.Kind, start func(ctx context.Context, s *session, st launcher.State) error) stepper {
	started := false
	return func(ctx context.Context, s *session, env events.Envelope) (bool, error) {
		switch env.Type {
		case events.TypeStateResolved:
			if started {
				return false, nil
			}
			started = true
			st, err := s.state(env)
			if err != nil {
				return true, err
			}
			if err := start(ctx, s, st); err != nil {
				if errors.Is(err, errNothingToDo) {
					logging.Infof("%s\n", describe(st, false))
					return true, nil
				}
				return true, err
			}
		case events.TypeActionCompleted:
			var p events.ActionCompleted
			if err := env.Decode(&p); err != nil {
				return true, err
			}
			if p.Kind == string(kind) {
				logging.Infoln("Done.")
				return true, nil
			}
		}
		return false, nil
	}
}

func init() {
	rootCmd.AddCommand(predownloadCmd, repairCmd)
}
