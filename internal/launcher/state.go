// Package launcher resolves the single next thing the launcher should do.
package launcher

import (
	"github.com/caedis/gamelauncher/internal/diff"
	"github.com/caedis/gamelauncher/internal/patch"
)

type StateKind string

const (
	KindFolderMigrationRequired   StateKind = "folder_migration_required"
	KindWineNotInstalled          StateKind = "wine_not_installed"
	KindPrefixNotExists           StateKind = "prefix_not_exists"
	KindGameNotInstalled          StateKind = "game_not_installed"
	KindVoiceNotInstalled         StateKind = "voice_not_installed"
	KindGameOutdated              StateKind = "game_outdated"
	KindVoiceOutdated             StateKind = "voice_outdated"
	KindGameUpdateAvailable       StateKind = "game_update_available"
	KindVoiceUpdateAvailable      StateKind = "voice_update_available"
	KindUnityPlayerPatchAvailable StateKind = "unity_player_patch_available"
	KindXluaPatchAvailable        StateKind = "xlua_patch_available"
	KindPredownloadAvailable      StateKind = "predownload_available"
	KindLaunch                    StateKind = "launch"
)

// State is the outcome of one resolution. Exactly one variant is active.
type State interface {
	Kind() StateKind
}

type FolderMigrationRequired struct {
	From          string
	To            string
	CleanupFolder string
}

type WineNotInstalled struct{}

type PrefixNotExists struct{}

type GameNotInstalled struct{ Diff *diff.NotInstalled }

type VoiceNotInstalled struct{ Diff *diff.NotInstalled }

type GameOutdated struct{ Diff *diff.Outdated }

type VoiceOutdated struct{ Diff *diff.Outdated }

type GameUpdateAvailable struct{ Diff *diff.Diff }

type VoiceUpdateAvailable struct{ Diff *diff.Diff }

type UnityPlayerPatchAvailable struct{ Patch patch.Info }

type XluaPatchAvailable struct{ Patch patch.Info }

// PredownloadAvailable lists every artifact of the next version that can be
// fetched ahead of time. Game is nil once its archive is staged. Voices only
// holds locales that have one.
type PredownloadAvailable struct {
	Game   *diff.Predownload
	Voices []*diff.Predownload
}

type Launch struct{}

func (FolderMigrationRequired) Kind() StateKind   { return KindFolderMigrationRequired }
func (WineNotInstalled) Kind() StateKind          { return KindWineNotInstalled }
func (PrefixNotExists) Kind() StateKind           { return KindPrefixNotExists }
func (GameNotInstalled) Kind() StateKind          { return KindGameNotInstalled }
func (VoiceNotInstalled) Kind() StateKind         { return KindVoiceNotInstalled }
func (GameOutdated) Kind() StateKind              { return KindGameOutdated }
func (VoiceOutdated) Kind() StateKind             { return KindVoiceOutdated }
func (GameUpdateAvailable) Kind() StateKind       { return KindGameUpdateAvailable }
func (VoiceUpdateAvailable) Kind() StateKind      { return KindVoiceUpdateAvailable }
func (UnityPlayerPatchAvailable) Kind() StateKind { return KindUnityPlayerPatchAvailable }
func (XluaPatchAvailable) Kind() StateKind        { return KindXluaPatchAvailable }
func (PredownloadAvailable) Kind() StateKind      { return KindPredownloadAvailable }
func (Launch) Kind() StateKind                    { return KindLaunch }

// Priority ranks a state; lower values pre-empt higher ones.
func Priority(k StateKind) int {
	switch k {
	case KindFolderMigrationRequired:
		return 1
	case KindWineNotInstalled:
		return 2
	case KindPrefixNotExists:
		return 3
	case KindGameNotInstalled, KindVoiceNotInstalled:
		return 4
	case KindGameOutdated, KindVoiceOutdated:
		return 5
	case KindGameUpdateAvailable, KindVoiceUpdateAvailable:
		return 6
	case KindUnityPlayerPatchAvailable, KindXluaPatchAvailable:
		return 7
	case KindPredownloadAvailable:
		return 8
	case KindLaunch:
		return 9
	default:
		return 0
	}
}

// NeedsDownload reports whether s is resolved by downloading an archive.
func NeedsDownload(s State) bool {
	switch s.(type) {
	case GameNotInstalled, VoiceNotInstalled, GameUpdateAvailable, VoiceUpdateAvailable:
		return true
	default:
		return false
	}
}

// IsPatch reports whether s asks for a patch.
func IsPatch(s State) bool {
	switch s.(type) {
	case UnityPlayerPatchAvailable, XluaPatchAvailable:
		return true
	default:
		return false
	}
}

// Actionable reports whether s has an action the dispatcher will start.
func Actionable(s State) bool {
	switch v := s.(type) {
	case GameOutdated, VoiceOutdated:
		return false
	case UnityPlayerPatchAvailable:
		return v.Patch.Status != nil && !patch.Blocking(v.Patch.Status)
	case XluaPatchAvailable:
		return v.Patch.Status != nil && !patch.Blocking(v.Patch.Status)
	default:
		return true
	}
}
