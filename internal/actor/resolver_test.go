package actor

import (
	"errors"
	"testing"

	"github.com/hindsight-dev/hindsight/internal/model"
)

// fakeDirectory implements Directory in memory.
type fakeDirectory struct {
	identities map[string]string // source+"/"+username -> actorID
	byEmail    map[string]*model.ActorProfile
	profiles   []model.ActorProfile
	err        error
}

func (f *fakeDirectory) GetIdentityActorID(_, source, username string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.identities[source+"/"+username], nil
}

func (f *fakeDirectory) GetProfileByEmail(_, email string) (*model.ActorProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byEmail[email], nil
}

func (f *fakeDirectory) ListProfiles(string) ([]model.ActorProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles, nil
}

func TestResolveIdentityLink(t *testing.T) {
	dir := &fakeDirectory{identities: map[string]string{"github/octocat": "user-1"}}
	r := NewResolver(dir)

	res := r.Resolve("ws1", "github", model.SourceActor{ID: "octocat", Email: "cat@example.com"})
	if res.Method != MethodIdentityLink || res.ResolvedUserID != "user-1" {
		t.Errorf("expected identity link, got %+v", res)
	}
	if res.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", res.Confidence)
	}
}

func TestResolveEmailTier(t *testing.T) {
	dir := &fakeDirectory{
		byEmail: map[string]*model.ActorProfile{
			"jane@example.com": {ActorID: "user-2", DisplayName: "Jane Doe"},
		},
	}
	r := NewResolver(dir)

	res := r.Resolve("ws1", "github", model.SourceActor{Name: "someone-else", Email: "jane@example.com"})
	if res.Method != MethodEmail || res.ResolvedUserID != "user-2" {
		t.Errorf("expected email match, got %+v", res)
	}
	if res.Confidence != 0.85 {
		t.Errorf("expected confidence 0.85, got %v", res.Confidence)
	}
}

func TestResolveHeuristicTier(t *testing.T) {
	dir := &fakeDirectory{
		profiles: []model.ActorProfile{
			{ActorID: "user-3", DisplayName: "Jane Doe"},
			{ActorID: "user-4", DisplayName: "Bob Smith"},
		},
	}
	r := NewResolver(dir)

	res := r.Resolve("ws1", "github", model.SourceActor{Name: "jane-doe"})
	if res.Method != MethodHeuristic || res.ResolvedUserID != "user-3" {
		t.Errorf("expected heuristic match, got %+v", res)
	}
	if res.Confidence != 0.60 {
		t.Errorf("expected confidence 0.60, got %v", res.Confidence)
	}
}

func TestResolveTierOrder(t *testing.T) {
	// All three tiers could match; identity link must win.
	dir := &fakeDirectory{
		identities: map[string]string{"github/jane": "linked"},
		byEmail:    map[string]*model.ActorProfile{"jane@example.com": {ActorID: "emailed"}},
		profiles:   []model.ActorProfile{{ActorID: "guessed", DisplayName: "jane"}},
	}
	r := NewResolver(dir)

	res := r.Resolve("ws1", "github", model.SourceActor{ID: "jane", Name: "jane", Email: "jane@example.com"})
	if res.ResolvedUserID != "linked" {
		t.Errorf("expected tier 1 to win, got %+v", res)
	}
}

func TestResolveUnresolved(t *testing.T) {
	r := NewResolver(&fakeDirectory{})
	res := r.Resolve("ws1", "github", model.SourceActor{Name: "stranger"})
	if res.Method != MethodUnresolved || res.ResolvedUserID != "" || res.Confidence != 0 {
		t.Errorf("expected unresolved, got %+v", res)
	}
}

func TestResolveDirectoryErrorDoesNotBlock(t *testing.T) {
	r := NewResolver(&fakeDirectory{err: errors.New("db down")})
	res := r.Resolve("ws1", "github", model.SourceActor{ID: "x", Name: "y", Email: "z@example.com"})
	if res.Method != MethodUnresolved {
		t.Errorf("expected unresolved on directory error, got %+v", res)
	}
}

func TestHeuristicRejectsShortNames(t *testing.T) {
	dir := &fakeDirectory{profiles: []model.ActorProfile{{ActorID: "u", DisplayName: "Al"}}}
	r := NewResolver(dir)
	res := r.Resolve("ws1", "github", model.SourceActor{Name: "al"})
	if res.Method != MethodUnresolved {
		t.Errorf("two-character names should not heuristically match, got %+v", res)
	}
}
