package launcher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/caedis/gamelauncher/internal/config"
	"github.com/caedis/gamelauncher/internal/diff"
	"github.com/caedis/gamelauncher/internal/migrate"
	"github.com/caedis/gamelauncher/internal/patch"
	"github.com/caedis/gamelauncher/internal/wine"
)

// Sources answers the questions the resolver asks about the install.
type Sources interface {
	LegacyLayout(ctx context.Context, cfg config.Config) (*migrate.Legacy, error)
	SelectedRuntime(ctx context.Context, cfg config.Config) (*wine.Runtime, error)
	PrefixExists(ctx context.Context, cfg config.Config, rt wine.Runtime) (bool, error)
	GameDiff(ctx context.Context, cfg config.Config) (diff.VersionDiff, error)
	VoiceDiff(ctx context.Context, cfg config.Config, locale string) (diff.VersionDiff, error)
	PatchInfo(ctx context.Context, cfg config.Config, kind patch.Kind) (patch.Info, error)
	IsPatchApplied(ctx context.Context, cfg config.Config, info patch.Info) (bool, error)
}

type PhaseKind string

const (
	PhaseKindGame  PhaseKind = "game"
	PhaseKindVoice PhaseKind = "voice"
	PhaseKindPatch PhaseKind = "patch"
)

// Phase marks a slow step of resolution so callers can show what is happening.
type Phase struct {
	Kind   PhaseKind
	Locale string
}

var (
	PhaseGame  = Phase{Kind: PhaseKindGame}
	PhasePatch = Phase{Kind: PhaseKindPatch}
)

func PhaseVoice(locale string) Phase { return Phase{Kind: PhaseKindVoice, Locale: locale} }

func (p Phase) String() string {
	if p.Kind == PhaseKindVoice {
		return "voice " + p.Locale
	}
	return string(p.Kind)
}

// ResolutionError means the state is unknown. Callers must not offer any
// action until a later resolution succeeds.
type ResolutionError struct {
	Step string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving launcher state (%s): %v", e.Step, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type Resolver struct {
	src Sources
	log zerolog.Logger
}

func NewResolver(src Sources, log zerolog.Logger) *Resolver {
	return &Resolver{src: src, log: log}
}

// Resolve determines the state for cfg. onPhase may be nil.
func (r *Resolver) Resolve(ctx context.Context, cfg config.Config, onPhase func(Phase)) (State, error) {
	if onPhase == nil {
		onPhase = func(Phase) {}
	}
	st, err := r.resolve(ctx, cfg, onPhase)
	if err != nil {
		r.log.Debug().Err(err).Msg("resolution failed")
		return nil, err
	}
	r.log.Debug().Str("state", string(st.Kind())).Msg("resolved launcher state")
	return st, nil
}

func fail(step string, err error) error {
	return &ResolutionError{Step: step, Err: err}
}

func (r *Resolver) resolve(ctx context.Context, cfg config.Config, onPhase func(Phase)) (State, error) {
	legacy, err := r.src.LegacyLayout(ctx, cfg)
	if err != nil {
		return nil, fail("legacy layout", err)
	}
	if legacy != nil {
		return FolderMigrationRequired{From: legacy.From, To: legacy.To, CleanupFolder: legacy.CleanupFolder}, nil
	}

	rt, err := r.src.SelectedRuntime(ctx, cfg)
	if err != nil {
		return nil, fail("runtime", err)
	}
	if rt == nil {
		return WineNotInstalled{}, nil
	}

	ok, err := r.src.PrefixExists(ctx, cfg, *rt)
	if err != nil {
		return nil, fail("prefix", err)
	}
	if !ok {
		return PrefixNotExists{}, nil
	}

	var pre PredownloadAvailable

	onPhase(PhaseGame)
	game, err := r.src.GameDiff(ctx, cfg)
	if err != nil {
		return nil, fail("game", err)
	}
	switch d := game.(type) {
	case *diff.NotInstalled:
		return GameNotInstalled{Diff: d}, nil
	case *diff.Outdated:
		return GameOutdated{Diff: d}, nil
	case *diff.Diff:
		return GameUpdateAvailable{Diff: d}, nil
	case *diff.Predownload:
		pre.Game = d
	case *diff.Latest:
	default:
		return nil, fail("game", fmt.Errorf("unexpected version diff %T", game))
	}

	for _, locale := range cfg.Game.Voices {
		if err := ctx.Err(); err != nil {
			return nil, fail("voice "+locale, err)
		}
		onPhase(PhaseVoice(locale))
		voice, err := r.src.VoiceDiff(ctx, cfg, locale)
		if err != nil {
			return nil, fail("voice "+locale, err)
		}
		switch d := voice.(type) {
		case *diff.NotInstalled:
			return VoiceNotInstalled{Diff: d}, nil
		case *diff.Outdated:
			return VoiceOutdated{Diff: d}, nil
		case *diff.Diff:
			return VoiceUpdateAvailable{Diff: d}, nil
		case *diff.Predownload:
			pre.Voices = append(pre.Voices, d)
		case *diff.Latest:
		default:
			return nil, fail("voice "+locale, fmt.Errorf("unexpected version diff %T", voice))
		}
	}

	onPhase(PhasePatch)
	kinds := []patch.Kind{patch.UnityPlayer}
	if cfg.Patch.ApplyXlua {
		kinds = append(kinds, patch.Xlua)
	}
	for _, kind := range kinds {
		st, err := r.patchState(ctx, cfg, kind)
		if err != nil {
			return nil, fail("patch "+string(kind), err)
		}
		if st != nil {
			return st, nil
		}
	}

	// The game archive may already be staged while a voice still needs one.
	if pre.Game != nil || len(pre.Voices) > 0 {
		return pre, nil
	}
	return Launch{}, nil
}

func (r *Resolver) patchState(ctx context.Context, cfg config.Config, kind patch.Kind) (State, error) {
	info, err := r.src.PatchInfo(ctx, cfg, kind)
	if err != nil {
		return nil, err
	}

	switch {
	case patch.Actionable(info.Status):
		applied, err := r.src.IsPatchApplied(ctx, cfg, info)
		if err != nil {
			return nil, err
		}
		if applied {
			return nil, nil
		}
	case kind == patch.UnityPlayer && patch.Blocking(info.Status):
		// Mandatory patch cannot be applied yet; surface it so launch is withheld.
	default:
		return nil, nil
	}

	if kind == patch.UnityPlayer {
		return UnityPlayerPatchAvailable{Patch: info}, nil
	}
	return XluaPatchAvailable{Patch: info}, nil
}
