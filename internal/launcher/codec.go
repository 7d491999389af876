package launcher

import (
	"encoding/json"
	"fmt"

	"github.com/caedis/gamelauncher/internal/diff"
	"github.com/caedis/gamelauncher/internal/patch"
)

type stateJSON struct {
	Kind          StateKind         `json:"kind"`
	From          string            `json:"from,omitempty"`
	To            string            `json:"to,omitempty"`
	CleanupFolder string            `json:"cleanup_folder,omitempty"`
	Diff          json.RawMessage   `json:"diff,omitempty"`
	Patch         *patch.Info       `json:"patch,omitempty"`
	Game          json.RawMessage   `json:"game,omitempty"`
	Voices        []json.RawMessage `json:"voices,omitempty"`
}

// MarshalState renders s as JSON with a kind discriminator.
func MarshalState(s State) ([]byte, error) {
	out := stateJSON{Kind: s.Kind()}
	var err error
	switch v := s.(type) {
	case FolderMigrationRequired:
		out.From, out.To, out.CleanupFolder = v.From, v.To, v.CleanupFolder
	case WineNotInstalled, PrefixNotExists, Launch:
	case GameNotInstalled:
		out.Diff, err = diff.Encode(v.Diff)
	case VoiceNotInstalled:
		out.Diff, err = diff.Encode(v.Diff)
	case GameOutdated:
		out.Diff, err = diff.Encode(v.Diff)
	case VoiceOutdated:
		out.Diff, err = diff.Encode(v.Diff)
	case GameUpdateAvailable:
		out.Diff, err = diff.Encode(v.Diff)
	case VoiceUpdateAvailable:
		out.Diff, err = diff.Encode(v.Diff)
	case UnityPlayerPatchAvailable:
		out.Patch = &v.Patch
	case XluaPatchAvailable:
		out.Patch = &v.Patch
	case PredownloadAvailable:
		if v.Game == nil && len(v.Voices) == 0 {
			return nil, fmt.Errorf("%s: nothing to predownload", v.Kind())
		}
		if v.Game != nil {
			if out.Game, err = diff.Encode(v.Game); err != nil {
				return nil, err
			}
		}
		for _, d := range v.Voices {
			raw, err := diff.Encode(d)
			if err != nil {
				return nil, err
			}
			out.Voices = append(out.Voices, raw)
		}
	default:
		return nil, fmt.Errorf("unknown launcher state %T", s)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalState parses output of MarshalState.
func UnmarshalState(data []byte) (State, error) {
	var in stateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parsing launcher state: %w", err)
	}

	switch in.Kind {
	case KindFolderMigrationRequired:
		return FolderMigrationRequired{From: in.From, To: in.To, CleanupFolder: in.CleanupFolder}, nil
	case KindWineNotInstalled:
		return WineNotInstalled{}, nil
	case KindPrefixNotExists:
		return PrefixNotExists{}, nil
	case KindLaunch:
		return Launch{}, nil
	case KindGameNotInstalled, KindVoiceNotInstalled:
		d, err := decodeAs[*diff.NotInstalled](in.Diff)
		if err != nil {
			return nil, err
		}
		if in.Kind == KindGameNotInstalled {
			return GameNotInstalled{Diff: d}, nil
		}
		return VoiceNotInstalled{Diff: d}, nil
	case KindGameOutdated, KindVoiceOutdated:
		d, err := decodeAs[*diff.Outdated](in.Diff)
		if err != nil {
			return nil, err
		}
		if in.Kind == KindGameOutdated {
			return GameOutdated{Diff: d}, nil
		}
		return VoiceOutdated{Diff: d}, nil
	case KindGameUpdateAvailable, KindVoiceUpdateAvailable:
		d, err := decodeAs[*diff.Diff](in.Diff)
		if err != nil {
			return nil, err
		}
		if in.Kind == KindGameUpdateAvailable {
			return GameUpdateAvailable{Diff: d}, nil
		}
		return VoiceUpdateAvailable{Diff: d}, nil
	case KindUnityPlayerPatchAvailable, KindXluaPatchAvailable:
		if in.Patch == nil {
			return nil, fmt.Errorf("%s: missing patch", in.Kind)
		}
		if in.Kind == KindUnityPlayerPatchAvailable {
			return UnityPlayerPatchAvailable{Patch: *in.Patch}, nil
		}
		return XluaPatchAvailable{Patch: *in.Patch}, nil
	case KindPredownloadAvailable:
		var out PredownloadAvailable
		if len(in.Game) > 0 {
			game, err := decodeAs[*diff.Predownload](in.Game)
			if err != nil {
				return nil, err
			}
			out.Game = game
		}
		for _, raw := range in.Voices {
			d, err := decodeAs[*diff.Predownload](raw)
			if err != nil {
				return nil, err
			}
			out.Voices = append(out.Voices, d)
		}
		if out.Game == nil && len(out.Voices) == 0 {
			return nil, fmt.Errorf("%s: nothing to predownload", in.Kind)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown launcher state %q", in.Kind)
	}
}

func decodeAs[T diff.VersionDiff](raw json.RawMessage) (T, error) {
	var zero T
	if len(raw) == 0 {
		return zero, fmt.Errorf("missing version diff")
	}
	d, err := diff.Decode(raw)
	if err != nil {
		return zero, err
	}
	t, ok := d.(T)
	if !ok {
		return zero, fmt.Errorf("version diff is %s, want %T", diff.Kind(d), zero)
	}
	return t, nil
}
