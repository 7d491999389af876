package cmd

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/caedis/gamelauncher/internal/actions"
	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/github"
	"github.com/caedis/gamelauncher/internal/launcher"
	"github.com/caedis/gamelauncher/internal/logging"
)

// app holds the launcher core wired for one command invocation.
type app struct {
	fs       afero.Fs
	store    *config.Store
	sources  *launcher.LocalSources
	resolver *launcher.Resolver
	dispatch *actions.Dispatcher
	clock    clockwork.Clock
	log      zerolog.Logger
}

func newApp() *app {
	fsys := afero.NewOsFs()
	clock := clockwork.NewRealClock()
	log := *logging.Logger()
	client := &http.Client{}

	store := config.NewStore(fsys, configPath, config.Default(config.DataDir()))
	sources := launcher.NewLocalSources(fsys, config.DataDir(), client, clock)
	token := getGithubToken()

	return &app{
		fs:       fsys,
		store:    store,
		sources:  sources,
		resolver: launcher.NewResolver(sources, log),
		dispatch: actions.New(actions.Deps{
			FS:        fsys,
			Config:    store,
			HTTP:      client,
			Clock:     clock,
			Log:       log,
			GameIndex: sources.GameIndex,
			LatestRuntime: func(ctx context.Context, repo string) (*github.LatestResult, error) {
				return github.FetchLatestRelease(ctx, repo, token)
			},
		}),
		clock: clock,
		log:   log,
	}
}

// resolve runs one resolution, echoing phases in verbose mode.
func (a *app) resolve(ctx context.Context) (config.Config, launcher.State, error) {
	cfg, err := a.store.Get()
	if err != nil {
		return config.Config{}, nil, err
	}
	st, err := a.resolver.Resolve(ctx, cfg, func(ph launcher.Phase) {
		logging.Debugf("Verbose: checking %s\n", ph)
	})
	return cfg, st, err
}
