// Package controller owns the launcher state and serializes everything that
// changes it.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/caedis/gamelauncher/internal/actions"
	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/launcher"
	"github.com/caedis/gamelauncher/internal/progress"
)

var (
	ErrResolving    = errors.New("state is being resolved")
	ErrNoState      = errors.New("state has not been resolved yet")
	ErrStateUnknown = errors.New("last resolution failed")
	ErrStopped      = errors.New("controller stopped")
)

const progressInterval = 100 * time.Millisecond

type Resolver interface {
	Resolve(ctx context.Context, cfg config.Config, onPhase func(launcher.Phase)) (launcher.State, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, st launcher.State, sink progress.Sink) (<-chan actions.Result, error)
	DispatchPredownload(ctx context.Context, st launcher.PredownloadAvailable, sink progress.Sink) (<-chan actions.Result, error)
	DispatchRepair(ctx context.Context, sink progress.Sink) (<-chan actions.Result, error)
	Cancel()
}

// Notifier receives every event the controller produces.
type Notifier interface {
	StateResolved(st launcher.State) error
	ResolutionFailed(err error) error
	PhaseStarted(ph launcher.Phase) error
	ProgressUpdated(current, total int64) error
	ActionCompleted(actionID, kind string) error
	ActionFailed(actionID, kind string, err error, canceled bool) error
}

type Options struct {
	// PerformOnDownloadNeeded starts the next download right after one
	// finishes, e.g. one voice pack after another.
	PerformOnDownloadNeeded bool
	// ApplyPatchIfNeeded applies an available patch right after a download.
	ApplyPatchIfNeeded bool
}

type Deps struct {
	Resolver   Resolver
	Dispatcher Dispatcher
	Config     *config.Store
	Notifier   Notifier
	Reporter   *progress.Reporter
	Clock      clockwork.Clock
	Log        zerolog.Logger
	// Invalidate drops cached remote data before re-resolving after an action.
	Invalidate func()
}

// Status is a snapshot of the controller.
type Status struct {
	State     launcher.State
	Err       error
	Resolving bool
	Running   bool
}

type requestKind int

const (
	reqRefresh requestKind = iota
	reqPerform
	reqPredownload
	reqRepair
	reqStatus
)

type request struct {
	kind   requestKind
	reply  chan error
	status chan Status
}

type resolved struct {
	gen   int
	chain bool
	state launcher.State
	err   error
}

type finished struct {
	result actions.Result
}

type Controller struct {
	deps Deps
	opts Options

	requests chan request
	inbox    chan any
	done     chan struct{}
	wg       sync.WaitGroup

	// Owned by the Run goroutine.
	state     launcher.State
	stateErr  error
	gen       int
	resolving bool
	running   bool
}

func New(deps Deps, opts Options) *Controller {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Reporter == nil {
		deps.Reporter = &progress.Reporter{}
	}
	return &Controller{
		deps:     deps,
		opts:     opts,
		requests: make(chan request),
		inbox:    make(chan any),
		done:     make(chan struct{}),
	}
}

// Run processes requests until ctx is done. Workers are stopped before it returns.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			c.deps.Dispatcher.Cancel()
			return nil
		case req := <-c.requests:
			c.handleRequest(ctx, req)
		case msg := <-c.inbox:
			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Controller) send(ctx context.Context, kind requestKind) error {
	req := request{kind: kind, reply: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.reply
}

// Refresh starts a new resolution.
func (c *Controller) Refresh(ctx context.Context) error { return c.send(ctx, reqRefresh) }

// Perform starts the action for the current state.
func (c *Controller) Perform(ctx context.Context) error { return c.send(ctx, reqPerform) }

// Predownload fetches the next version's archives when the state offers them.
func (c *Controller) Predownload(ctx context.Context) error { return c.send(ctx, reqPredownload) }

// Repair verifies the game files and re-downloads broken ones.
func (c *Controller) Repair(ctx context.Context) error { return c.send(ctx, reqRepair) }

// Cancel stops the running action.
func (c *Controller) Cancel() { c.deps.Dispatcher.Cancel() }

func (c *Controller) Status(ctx context.Context) (Status, error) {
	req := request{kind: reqStatus, status: make(chan Status, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return Status{}, ErrStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	return <-req.status, nil
}

func (c *Controller) handleRequest(ctx context.Context, req request) {
	switch req.kind {
	case reqStatus:
		req.status <- Status{State: c.state, Err: c.stateErr, Resolving: c.resolving, Running: c.running}
		return
	case reqRefresh:
		if c.running {
			req.reply <- actions.ErrBusy
			return
		}
		c.resolve(ctx, false)
		req.reply <- nil
	case reqPerform:
		req.reply <- c.ready(func() error { return c.perform(ctx) })
	case reqPredownload:
		req.reply <- c.ready(func() error {
			pre, ok := c.state.(launcher.PredownloadAvailable)
			if !ok {
				return actions.ErrNotActionable
			}
			ch, err := c.deps.Dispatcher.DispatchPredownload(ctx, pre, c.sink())
			return c.track(ctx, ch, err)
		})
	case reqRepair:
		req.reply <- c.ready(func() error {
			ch, err := c.deps.Dispatcher.DispatchRepair(ctx, c.sink())
			return c.track(ctx, ch, err)
		})
	}
}

// ready runs fn only when an up to date state is known and nothing runs.
func (c *Controller) ready(fn func() error) error {
	switch {
	case c.running:
		return actions.ErrBusy
	case c.resolving:
		return ErrResolving
	case c.stateErr != nil:
		return ErrStateUnknown
	case c.state == nil:
		return ErrNoState
	}
	return fn()
}

func (c *Controller) perform(ctx context.Context) error {
	ch, err := c.deps.Dispatcher.Dispatch(ctx, c.state, c.sink())
	return c.track(ctx, ch, err)
}

func (c *Controller) sink() progress.Sink {
	c.deps.Reporter.Reset()
	return progress.NewThrottled(progress.SinkFunc(func(current, total int64) {
		c.deps.Reporter.Update(current, total)
		c.notify(c.deps.Notifier.ProgressUpdated(current, total))
	}), progressInterval, c.deps.Clock)
}

func (c *Controller) track(ctx context.Context, ch <-chan actions.Result, err error) error {
	if err != nil {
		return err
	}
	c.running = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, ok := <-ch
		if !ok {
			return
		}
		select {
		case c.inbox <- finished{result: res}:
		case <-ctx.Done():
		}
	}()
	return nil
}

func (c *Controller) resolve(ctx context.Context, chain bool) {
	c.gen++
	c.resolving = true
	gen := c.gen
	cfg := c.deps.Config.GetOrDefault()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		st, err := c.deps.Resolver.Resolve(ctx, cfg, func(ph launcher.Phase) {
			c.deps.Reporter.SetCaption(ph.String())
			c.notify(c.deps.Notifier.PhaseStarted(ph))
		})
		select {
		case c.inbox <- resolved{gen: gen, chain: chain, state: st, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) handleMessage(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case resolved:
		if m.gen != c.gen {
			return
		}
		c.resolving = false
		if m.err != nil {
			// Keep the last known state for display; actions stay refused.
			c.stateErr = m.err
			c.deps.Log.Warn().Err(m.err).Msg("state resolution failed")
			c.notify(c.deps.Notifier.ResolutionFailed(m.err))
			return
		}
		c.state, c.stateErr = m.state, nil
		c.notify(c.deps.Notifier.StateResolved(m.state))
		if m.chain && c.shouldChain(m.state) {
			if err := c.perform(ctx); err != nil {
				c.deps.Log.Warn().Err(err).Str("state", string(m.state.Kind())).Msg("chained action refused")
			}
		}

	case finished:
		c.running = false
		c.deps.Reporter.Reset()
		res := m.result
		if res.Err != nil {
			c.notify(c.deps.Notifier.ActionFailed(res.ID.String(), string(res.Kind), res.Err, errors.Is(res.Err, context.Canceled)))
		} else {
			c.notify(c.deps.Notifier.ActionCompleted(res.ID.String(), string(res.Kind)))
		}
		if c.deps.Invalidate != nil {
			c.deps.Invalidate()
		}
		c.resolve(ctx, res.Err == nil && res.Kind != actions.KindLaunch)
	}
}

func (c *Controller) shouldChain(st launcher.State) bool {
	switch {
	case !launcher.Actionable(st):
		return false
	case launcher.NeedsDownload(st):
		return c.opts.PerformOnDownloadNeeded
	case launcher.IsPatch(st):
		return c.opts.ApplyPatchIfNeeded
	default:
		return false
	}
}

func (c *Controller) notify(err error) {
	if err != nil {
		c.deps.Log.Debug().Err(err).Msg("publishing event failed")
	}
}
