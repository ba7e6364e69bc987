// Package actor resolves raw source actors to canonical workspace
// identities through three tiers of decreasing confidence.
package actor

import (
	"log/slog"
	"strings"

	"github.com/hindsight-dev/hindsight/internal/model"
)

// Resolution methods, one per tier.
const (
	MethodIdentityLink = "identity_link"
	MethodEmail        = "email"
	MethodHeuristic    = "heuristic"
	MethodUnresolved   = "unresolved"
)

// Tier confidences are fixed.
const (
	confidenceIdentityLink = 1.0
	confidenceEmail        = 0.85
	confidenceHeuristic    = 0.60
)

// Directory is the subset of the relational store the resolver reads.
type Directory interface {
	GetIdentityActorID(workspaceID, source, sourceUsername string) (string, error)
	GetProfileByEmail(workspaceID, email string) (*model.ActorProfile, error)
	ListProfiles(workspaceID string) ([]model.ActorProfile, error)
}

// Resolver maps source actors to workspace identities.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver over the given directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve attempts the three tiers in order; the first success wins.
// Resolution never fails the pipeline: directory errors are logged and
// the actor comes back unresolved, raw actor retained by the caller.
func (r *Resolver) Resolve(workspaceID, source string, raw model.SourceActor) model.ActorResolution {
	// Tier 1: exact identity link on the source username/id.
	for _, username := range []string{raw.ID, raw.Name} {
		if username == "" {
			continue
		}
		actorID, err := r.dir.GetIdentityActorID(workspaceID, source, username)
		if err != nil {
			slog.Warn("identity lookup failed", "workspace", workspaceID, "error", err)
			break
		}
		if actorID != "" {
			return model.ActorResolution{
				ResolvedUserID: actorID,
				Confidence:     confidenceIdentityLink,
				Method:         MethodIdentityLink,
			}
		}
	}

	// Tier 2: email match against known workspace members.
	if raw.Email != "" {
		profile, err := r.dir.GetProfileByEmail(workspaceID, raw.Email)
		if err != nil {
			slog.Warn("email lookup failed", "workspace", workspaceID, "error", err)
		} else if profile != nil {
			return model.ActorResolution{
				ResolvedUserID: profile.ActorID,
				Confidence:     confidenceEmail,
				Method:         MethodEmail,
			}
		}
	}

	// Tier 3: display-name similarity heuristic.
	if raw.Name != "" {
		profiles, err := r.dir.ListProfiles(workspaceID)
		if err != nil {
			slog.Warn("profile scan failed", "workspace", workspaceID, "error", err)
		} else if id := matchByName(raw.Name, profiles); id != "" {
			return model.ActorResolution{
				ResolvedUserID: id,
				Confidence:     confidenceHeuristic,
				Method:         MethodHeuristic,
			}
		}
	}

	return model.ActorResolution{Method: MethodUnresolved}
}

// matchByName finds a profile whose normalized display name equals or
// contains the raw name (or the reverse). Short fragments never match.
func matchByName(rawName string, profiles []model.ActorProfile) string {
	name := normalizeName(rawName)
	if len(name) < 3 {
		return ""
	}
	for _, p := range profiles {
		display := normalizeName(p.DisplayName)
		if display == "" {
			continue
		}
		if display == name ||
			(len(display) >= 3 && strings.Contains(name, display)) ||
			strings.Contains(display, name) {
			return p.ActorID
		}
	}
	return ""
}

// normalizeName lowercases and strips everything but letters and digits,
// so "Jane Doe", "jane-doe", and "janedoe42"[:7] compare cleanly.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
