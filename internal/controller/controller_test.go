package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/caedis/gamelauncher/internal/actions"
	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/diff"
	"github.com/caedis/gamelauncher/internal/launcher"
	"github.com/caedis/gamelauncher/internal/progress"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type step struct {
	state launcher.State
	err   error
}

type fakeResolver struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (r *fakeResolver) Resolve(_ context.Context, _ config.Config, onPhase func(launcher.Phase)) (launcher.State, error) {
	onPhase(launcher.PhaseGame)
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.steps[min(r.calls, len(r.steps)-1)]
	r.calls++
	return s.state, s.err
}

type fakeDispatcher struct {
	mu      sync.Mutex
	states  []launcher.State
	running chan actions.Result
}

func (d *fakeDispatcher) start(kind actions.Kind, st launcher.State, sink progress.Sink) (<-chan actions.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running != nil {
		return nil, actions.ErrBusy
	}
	if st != nil {
		d.states = append(d.states, st)
	}
	d.running = make(chan actions.Result, 1)
	sink.Update(1, 2)
	return d.running, nil
}

func (d *fakeDispatcher) Dispatch(_ context.Context, st launcher.State, sink progress.Sink) (<-chan actions.Result, error) {
	if _, ok := st.(launcher.GameOutdated); ok {
		return nil, actions.ErrNotActionable
	}
	return d.start(actions.KindDownloadDiff, st, sink)
}

func (d *fakeDispatcher) DispatchPredownload(_ context.Context, _ launcher.PredownloadAvailable, sink progress.Sink) (<-chan actions.Result, error) {
	return d.start(actions.KindPredownload, nil, sink)
}

func (d *fakeDispatcher) DispatchRepair(_ context.Context, sink progress.Sink) (<-chan actions.Result, error) {
	return d.start(actions.KindRepair, nil, sink)
}

func (d *fakeDispatcher) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running != nil {
		d.running <- actions.Result{ID: uuid.New(), Kind: actions.KindDownloadDiff, Err: context.Canceled}
		close(d.running)
		d.running = nil
	}
}

func (d *fakeDispatcher) finish(kind actions.Kind, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running <- actions.Result{ID: uuid.New(), Kind: kind, Err: err}
	close(d.running)
	d.running = nil
}

func (d *fakeDispatcher) dispatched() []launcher.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]launcher.State(nil), d.states...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	states []launcher.State
}

func (n *recordingNotifier) add(ev string) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) StateResolved(st launcher.State) error {
	n.mu.Lock()
	n.states = append(n.states, st)
	n.mu.Unlock()
	n.add("resolved:" + string(st.Kind()))
	return nil
}

func (n *recordingNotifier) ResolutionFailed(error) error       { n.add("resolution_failed"); return nil }
func (n *recordingNotifier) PhaseStarted(launcher.Phase) error  { return nil }
func (n *recordingNotifier) ProgressUpdated(int64, int64) error { n.add("progress"); return nil }

func (n *recordingNotifier) ActionCompleted(_, kind string) error {
	n.add("completed:" + kind)
	return nil
}

func (n *recordingNotifier) ActionFailed(_, kind string, _ error, canceled bool) error {
	if canceled {
		n.add("canceled:" + kind)
		return nil
	}
	n.add("failed:" + kind)
	return nil
}

func (n *recordingNotifier) has(ev string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == ev {
			return true
		}
	}
	return false
}

func (n *recordingNotifier) count(ev string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == ev {
			c++
		}
	}
	return c
}

type harness struct {
	c        *Controller
	resolver *fakeResolver
	disp     *fakeDispatcher
	notifier *recordingNotifier
	cancel   context.CancelFunc
	done     chan error
}

func start(t *testing.T, opts Options, steps ...step) *harness {
	t.Helper()
	h := &harness{
		resolver: &fakeResolver{steps: steps},
		disp:     &fakeDispatcher{},
		notifier: &recordingNotifier{},
		done:     make(chan error, 1),
	}
	h.c = New(Deps{
		Resolver:   h.resolver,
		Dispatcher: h.disp,
		Config:     config.NewStore(afero.NewMemMapFs(), "/config.json", config.Default("/data")),
		Notifier:   h.notifier,
		Clock:      clockwork.NewFakeClock(),
		Log:        zerolog.Nop(),
	}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.c.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel = nil
}

func (h *harness) waitFor(t *testing.T, ev string) {
	t.Helper()
	require.Eventually(t, func() bool { return h.notifier.has(ev) }, 2*time.Second, time.Millisecond, "waiting for %s", ev)
}

func (h *harness) waitIdle(t *testing.T) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		var err error
		st, err = h.c.Status(context.Background())
		return err == nil && !st.Resolving && !st.Running
	}, 2*time.Second, time.Millisecond)
	return st
}

var (
	gameMissing  = launcher.GameNotInstalled{Diff: &diff.NotInstalled{Meta: diff.Meta{Target: diff.Game()}}}
	voiceMissing = launcher.VoiceNotInstalled{Diff: &diff.NotInstalled{Meta: diff.Meta{Target: diff.Voice("ja-jp")}}}
)

func TestPerformRequiresResolvedState(t *testing.T) {
	h := start(t, Options{}, step{state: launcher.Launch{}})
	ctx := context.Background()

	require.ErrorIs(t, h.c.Perform(ctx), ErrNoState)

	require.NoError(t, h.c.Refresh(ctx))
	h.waitFor(t, "resolved:launch")
	st := h.waitIdle(t)
	assert.Equal(t, launcher.Launch{}, st.State)
}

func TestActionLifecycle(t *testing.T) {
	h := start(t, Options{}, step{state: gameMissing}, step{state: launcher.Launch{}})
	ctx := context.Background()

	require.NoError(t, h.c.Refresh(ctx))
	h.waitFor(t, "resolved:game_not_installed")
	h.waitIdle(t)

	require.NoError(t, h.c.Perform(ctx))
	require.ErrorIs(t, h.c.Perform(ctx), actions.ErrBusy)
	require.ErrorIs(t, h.c.Repair(ctx), actions.ErrBusy)
	h.waitFor(t, "progress")

	h.disp.finish(actions.KindDownloadDiff, nil)
	h.waitFor(t, "completed:download_diff")
	h.waitFor(t, "resolved:launch")

	st := h.waitIdle(t)
	assert.Equal(t, launcher.Launch{}, st.State)
	assert.Equal(t, []launcher.State{gameMissing}, h.disp.dispatched())
}

func TestResolutionFailureBlocksActions(t *testing.T) {
	h := start(t, Options{}, step{state: gameMissing}, step{err: errors.New("index unreachable")})
	ctx := context.Background()

	require.NoError(t, h.c.Refresh(ctx))
	h.waitFor(t, "resolved:game_not_installed")
	h.waitIdle(t)

	require.NoError(t, h.c.Refresh(ctx))
	h.waitFor(t, "resolution_failed")
	st := h.waitIdle(t)
	require.Error(t, st.Err)
	assert.Equal(t, gameMissing, st.State, "last known state is kept for display")

	require.ErrorIs(t, h.c.Perform(ctx), ErrStateUnknown)
	assert.Empty(t, h.disp.dispatched())
}

func TestNotActionableStateIsRefused(t *testing.T) {
	h := start(t, Options{}, step{state: launcher.GameOutdated{Diff: &diff.Outdated{}}})
	ctx := context.Background()

	require.NoError(t, h.c.Refresh(ctx))
	h.waitFor(t, "resolved:game_outdated")
	h.waitIdle(t)

	require.ErrorIs(t, h.c.Perform(ctx), actions.ErrNotActionable)
	assert.False(t, h.notifier.has("progress"))
	require.ErrorIs(t, h.c.Predownload(ctx), actions.ErrNotActionable)
}

func TestChainedDownloads(t *testing.T) {
	h := start(t, Options{PerformOnDownloadNeeded: true},
		step{state: gameMissing}, step{state: voiceMissing}, step{state: launcher.Launch{}})
	ctx := context.Background()

	require.NoError(t, h.c.Refresh(ctx))
	h.waitFor(t, "resolved:game_not_installed")
	h.waitIdle(t)
	require.NoError(t, h.c.Perform(ctx))

	h.disp.finish(actions.KindDownloadDiff, nil)
	h.waitFor(t, "resolved:voice_not_installed")
	require.Eventually(t, func() bool { return len(h.disp.dispatched()) == 2 }, 2*time.Second, time.Millisecond)

	h.disp.finish(actions.KindDownloadDiff, nil)
	h.waitFor(t, "resolved:launch")
	h.waitIdle(t)

	assert.Equal(t, []launcher.State{gameMissing, voiceMissing}, h.disp.dispatched())
	assert.Equal(t, 2, h.notifier.count("completed:download_diff"))
}

func TestNoChainWithoutOption(t *testing.T) {
	h := start(t, Options{}, step{state: gameMissing}, step{state: voiceMissing})
	ctx := context.Background()

	require.NoError(t, h.c.Refresh(ctx))
	h.waitFor(t, "resolved:game_not_installed")
	h.waitIdle(t)
	require.NoError(t, h.c.Perform(ctx))
	h.disp.finish(actions.KindDownloadDiff, nil)
	h.waitFor(t, "resolved:voice_not_installed")
	h.waitIdle(t)

	assert.Len(t, h.disp.dispatched(), 1)
}

func TestFailedActionReresolvesWithoutChaining(t *testing.T) {
	h := start(t, Options{PerformOnDownloadNeeded: true}, step{state: gameMissing})
	ctx := context.Background()

	require.NoError(t, h.c.Refresh(ctx))
	h.waitFor(t, "resolved:game_not_installed")
	h.waitIdle(t)
	require.NoError(t, h.c.Perform(ctx))

	h.disp.finish(actions.KindDownloadDiff, errors.New("HTTP 503"))
	h.waitFor(t, "failed:download_diff")
	require.Eventually(t, func() bool { return h.notifier.count("resolved:game_not_installed") == 2 }, 2*time.Second, time.Millisecond)
	h.waitIdle(t)

	assert.Len(t, h.disp.dispatched(), 1, "a failed action is only retried by the user")
}

func TestCancelRunningAction(t *testing.T) {
	h := start(t, Options{}, step{state: gameMissing})
	ctx := context.Background()

	require.NoError(t, h.c.Refresh(ctx))
	h.waitFor(t, "resolved:game_not_installed")
	h.waitIdle(t)
	require.NoError(t, h.c.Perform(ctx))

	h.c.Cancel()
	h.waitFor(t, "canceled:download_diff")
	h.waitIdle(t)
}

func TestStoppedController(t *testing.T) {
	h := start(t, Options{}, step{state: launcher.Launch{}})
	h.stop()

	require.ErrorIs(t, h.c.Refresh(context.Background()), ErrStopped)
	_, err := h.c.Status(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}
