// Package actions runs the long operation that resolves a launcher state.
package actions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/downloader"
	"github.com/caedis/gamelauncher/internal/github"
	"github.com/caedis/gamelauncher/internal/launcher"
	"github.com/caedis/gamelauncher/internal/manifest"
	"github.com/caedis/gamelauncher/internal/patch"
	"github.com/caedis/gamelauncher/internal/progress"
	"github.com/caedis/gamelauncher/internal/wine"
)

var (
	// ErrBusy is returned when an action is already running.
	ErrBusy = errors.New("another action is already running")
	// ErrNotActionable is returned for states that offer no action.
	ErrNotActionable = errors.New("state has no action")
)

type Kind string

const (
	KindLaunch          Kind = "launch"
	KindMigrate         Kind = "migrate"
	KindApplyPatch      Kind = "apply_patch"
	KindDownloadRuntime Kind = "download_runtime"
	KindCreatePrefix    Kind = "create_prefix"
	KindDownloadDiff    Kind = "download_diff"
	KindPredownload     Kind = "predownload"
	KindRepair          Kind = "repair"
)

// Result is the single terminal event of an action.
type Result struct {
	ID   uuid.UUID
	Kind Kind
	Err  error
}

// Record describes the running action.
type Record struct {
	ID        uuid.UUID
	Kind      Kind
	StartedAt time.Time
	Progress  progress.Snapshot
	Canceled  bool
	Err       error
}

// Deps are the collaborators drivers use.
type Deps struct {
	FS     afero.Fs
	Config *config.Store
	HTTP   *http.Client
	Exec   wine.Executor
	Clock  clockwork.Clock
	Log    zerolog.Logger

	// GameIndex returns the remote version index, used by repair.
	GameIndex func(ctx context.Context, cfg config.Config) (*manifest.Index, error)
	// LatestRuntime looks up the runtime build to install.
	LatestRuntime func(ctx context.Context, repo string) (*github.LatestResult, error)
}

type Dispatcher struct {
	deps Deps
	dl   *downloader.Downloader

	mu      sync.Mutex
	current *Record
	cancel  context.CancelFunc
}

func New(deps Deps) *Dispatcher {
	if deps.FS == nil {
		deps.FS = afero.NewOsFs()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Exec == nil {
		deps.Exec = wine.ExecExecutor{}
	}
	if deps.GameIndex == nil {
		client := deps.HTTP
		deps.GameIndex = func(ctx context.Context, cfg config.Config) (*manifest.Index, error) {
			return manifest.Fetch(ctx, client, cfg.Components.IndexURL)
		}
	}
	if deps.LatestRuntime == nil {
		deps.LatestRuntime = func(ctx context.Context, repo string) (*github.LatestResult, error) {
			return github.FetchLatestRelease(ctx, repo, "")
		}
	}
	return &Dispatcher{deps: deps, dl: downloader.New(deps.FS, deps.HTTP)}
}

type driver func(ctx context.Context, sink progress.Sink) error

// route picks the driver for st. Blocking states return ErrNotActionable.
func (d *Dispatcher) route(st launcher.State) (Kind, driver, error) {
	switch s := st.(type) {
	case launcher.Launch, launcher.PredownloadAvailable:
		return KindLaunch, d.launch, nil
	case launcher.FolderMigrationRequired:
		return KindMigrate, func(ctx context.Context, sink progress.Sink) error {
			return d.migrate(ctx, s, sink)
		}, nil
	case launcher.WineNotInstalled:
		return KindDownloadRuntime, d.downloadRuntime, nil
	case launcher.PrefixNotExists:
		return KindCreatePrefix, d.createPrefix, nil
	case launcher.GameNotInstalled:
		return KindDownloadDiff, d.installDiff(s.Diff.Meta, s.Diff.Latest), nil
	case launcher.VoiceNotInstalled:
		return KindDownloadDiff, d.installDiff(s.Diff.Meta, s.Diff.Latest), nil
	case launcher.GameUpdateAvailable:
		return KindDownloadDiff, d.installDiff(s.Diff.Meta, s.Diff.Latest), nil
	case launcher.VoiceUpdateAvailable:
		return KindDownloadDiff, d.installDiff(s.Diff.Meta, s.Diff.Latest), nil
	case launcher.GameOutdated, launcher.VoiceOutdated:
		return "", nil, fmt.Errorf("%w: %s", ErrNotActionable, st.Kind())
	case launcher.UnityPlayerPatchAvailable:
		return d.routePatch(st, s.Patch)
	case launcher.XluaPatchAvailable:
		return d.routePatch(st, s.Patch)
	default:
		return "", nil, fmt.Errorf("unknown launcher state %T", st)
	}
}

func (d *Dispatcher) routePatch(st launcher.State, info patch.Info) (Kind, driver, error) {
	switch {
	case patch.Actionable(info.Status):
		return KindApplyPatch, func(ctx context.Context, sink progress.Sink) error {
			return d.applyPatch(ctx, info, sink)
		}, nil
	case patch.Blocking(info.Status):
		return "", nil, fmt.Errorf("%w: %s is %s", ErrNotActionable, st.Kind(), patch.StatusName(info.Status))
	default:
		return KindLaunch, d.launch, nil
	}
}

// Dispatch starts the action for st. The returned channel yields exactly
// one Result and is then closed.
func (d *Dispatcher) Dispatch(ctx context.Context, st launcher.State, sink progress.Sink) (<-chan Result, error) {
	kind, fn, err := d.route(st)
	if err != nil {
		return nil, err
	}
	return d.start(ctx, kind, fn, sink)
}

// DispatchPredownload downloads every archive listed in st into the temp
// folder without installing anything.
func (d *Dispatcher) DispatchPredownload(ctx context.Context, st launcher.PredownloadAvailable, sink progress.Sink) (<-chan Result, error) {
	if st.Game == nil && len(st.Voices) == 0 {
		return nil, fmt.Errorf("%w: nothing to predownload", ErrNotActionable)
	}
	return d.start(ctx, KindPredownload, func(ctx context.Context, sink progress.Sink) error {
		return d.predownload(ctx, st, sink)
	}, sink)
}

// DispatchRepair verifies installed files and re-downloads broken ones.
func (d *Dispatcher) DispatchRepair(ctx context.Context, sink progress.Sink) (<-chan Result, error) {
	return d.start(ctx, KindRepair, d.repair, sink)
}

// Cancel asks the running action to stop at its next chunk boundary.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// Current returns a copy of the running action's record.
func (d *Dispatcher) Current() (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return Record{}, false
	}
	return *d.current, true
}

func (d *Dispatcher) Busy() bool {
	_, ok := d.Current()
	return ok
}

func (d *Dispatcher) start(ctx context.Context, kind Kind, fn driver, sink progress.Sink) (<-chan Result, error) {
	if sink == nil {
		sink = progress.Discard
	}

	d.mu.Lock()
	if d.current != nil {
		d.mu.Unlock()
		return nil, ErrBusy
	}
	rec := &Record{ID: uuid.New(), Kind: kind, StartedAt: d.deps.Clock.Now()}
	ctx, cancel := context.WithCancel(ctx)
	d.current, d.cancel = rec, cancel
	d.mu.Unlock()

	log := d.deps.Log.With().Str("action", string(kind)).Str("id", rec.ID.String()).Logger()
	log.Info().Msg("action started")

	tracked := progress.SinkFunc(func(current, total int64) {
		d.mu.Lock()
		rec.Progress = progress.Snapshot{Current: current, Total: total, Visible: true}
		d.mu.Unlock()
		sink.Update(current, total)
	})

	results := make(chan Result, 1)
	go func() {
		defer close(results)
		err := fn(ctx, tracked)

		d.mu.Lock()
		rec.Err = err
		rec.Canceled = errors.Is(err, context.Canceled)
		d.current, d.cancel = nil, nil
		d.mu.Unlock()
		cancel()

		if err != nil {
			log.Error().Err(err).Bool("canceled", rec.Canceled).Dur("took", d.deps.Clock.Since(rec.StartedAt)).Msg("action failed")
		} else {
			log.Info().Dur("took", d.deps.Clock.Since(rec.StartedAt)).Msg("action finished")
		}
		results <- Result{ID: rec.ID, Kind: kind, Err: err}
	}()
	return results, nil
}
