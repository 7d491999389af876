package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/caedis/gamelauncher/internal/actions"
	"github.com/caedis/gamelauncher/internal/controller"
	"github.com/caedis/gamelauncher/internal/events"
	"github.com/caedis/gamelauncher/internal/launcher"
	"github.com/caedis/gamelauncher/internal/logging"
)

// stepper reacts to one launcher event. It reports done once the command has
// reached its goal. Progress and failures are handled by the session.
type stepper func(ctx context.Context, s *session, env events.Envelope) (done bool, err error)

type session struct {
	ctl *controller.Controller
	bar *progressBar
}

// state decodes a state.resolved envelope.
func (s *session) state(env events.Envelope) (launcher.State, error) {
	var p events.StateResolved
	if err := env.Decode(&p); err != nil {
		return nil, err
	}
	return launcher.UnmarshalState(p.State)
}

// runSession drives the controller until step reports done, an action fails
// or ctx is canceled.
func runSession(parent context.Context, a *app, opts controller.Options, step stepper) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	bus, err := events.NewInMemoryBus()
	if err != nil {
		return err
	}
	pub := events.NewPublisher(bus.Publisher, a.clock)
	s := &session{
		ctl: controller.New(controller.Deps{
			Resolver:   a.resolver,
			Dispatcher: a.dispatch,
			Config:     a.store,
			Notifier:   pub,
			Clock:      a.clock,
			Log:        a.log,
			Invalidate: a.sources.Invalidate,
		}, opts),
		bar: newProgressBar(os.Stdout),
	}

	finished := make(chan error, 1)
	finish := func(err error) {
		select {
		case finished <- err:
		default:
		}
	}

	// Handlers never return errors: the router would redeliver the message.
	bus.Handle("cli", func(env events.Envelope) error {
		if err := s.common(env); err != nil {
			finish(err)
			return nil
		}
		done, err := step(ctx, s, env)
		if err != nil || done {
			s.bar.Finish()
			finish(err)
		}
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(gctx) })
	g.Go(func() error { return pub.Run(gctx) })
	g.Go(func() error { return s.ctl.Run(gctx) })
	g.Go(func() error {
		select {
		case <-bus.Running():
		case <-gctx.Done():
			return nil
		}
		if err := s.ctl.Refresh(gctx); err != nil {
			return err
		}
		select {
		case err := <-finished:
			cancel()
			return err
		case <-gctx.Done():
			return parent.Err()
		}
	})
	return g.Wait()
}

// common handles progress and failures for every command.
func (s *session) common(env events.Envelope) error {
	switch env.Type {
	case events.TypePhaseStarted:
		var p events.PhaseStarted
		if err := env.Decode(&p); err == nil {
			logging.Debugf("Verbose: checking %s\n", p.Phase)
		}
	case events.TypeStateResolved:
		st, err := s.state(env)
		if err != nil {
			return err
		}
		s.bar.SetCaption(actionLabel(st))
	case events.TypeProgressUpdated:
		var p events.ProgressUpdated
		if err := env.Decode(&p); err != nil {
			return err
		}
		s.bar.Update(p.Current, p.Total)
	case events.TypeResolutionFailed:
		var p events.ResolutionFailed
		if err := env.Decode(&p); err != nil {
			return err
		}
		return errors.New(p.Error)
	case events.TypeActionFailed:
		s.bar.Finish()
		var p events.ActionFailed
		if err := env.Decode(&p); err != nil {
			return err
		}
		if p.Canceled {
			return fmt.Errorf("%s canceled", p.Kind)
		}
		return fmt.Errorf("%s failed: %s", p.Kind, p.Error)
	case events.TypeActionCompleted:
		s.bar.Finish()
		var p events.ActionCompleted
		if err := env.Decode(&p); err != nil {
			return err
		}
		logging.Debugf("Verbose: action %s (%s) completed\n", p.Kind, p.ActionID)
	}
	return nil
}

// perform starts the action for st, announcing it first.
func (s *session) perform(ctx context.Context, st launcher.State) error {
	s.bar.Start(actionLabel(st))
	err := s.ctl.Perform(ctx)
	if errors.Is(err, actions.ErrBusy) {
		// Already started by the controller's chaining.
		return nil
	}
	return err
}

func actionLabel(st launcher.State) string {
	switch s := st.(type) {
	case launcher.FolderMigrationRequired:
		return "Moving game files"
	case launcher.WineNotInstalled:
		return "Downloading Wine runtime"
	case launcher.PrefixNotExists:
		return "Creating Wine prefix"
	case launcher.GameNotInstalled:
		return "Installing game " + s.Diff.Latest.String()
	case launcher.VoiceNotInstalled:
		return "Installing voice pack " + s.Diff.Target.Locale
	case launcher.GameUpdateAvailable:
		return "Updating game to " + s.Diff.Latest.String()
	case launcher.VoiceUpdateAvailable:
		return "Updating voice pack " + s.Diff.Target.Locale
	case launcher.UnityPlayerPatchAvailable:
		return "Applying " + string(s.Patch.Kind) + " patch"
	case launcher.XluaPatchAvailable:
		return "Applying " + string(s.Patch.Kind) + " patch"
	case launcher.Launch, launcher.PredownloadAvailable:
		return "Launching game"
	default:
		return string(st.Kind())
	}
}
