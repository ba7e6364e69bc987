package llm

import "testing"

func TestParseScoresPlain(t *testing.T) {
	scores, err := ParseScores(`{"scores": {"1": 0.8, "2": 0.15}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if scores[1] != 0.8 || scores[2] != 0.15 {
		t.Errorf("unexpected scores: %v", scores)
	}
}

func TestParseScoresWithCodeFence(t *testing.T) {
	text := "```json\n{\"scores\": {\"1\": 0.5}}\n```"
	scores, err := ParseScores(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if scores[1] != 0.5 {
		t.Errorf("expected rank 1 score 0.5, got %v", scores)
	}
}

func TestParseScoresDropsBadEntries(t *testing.T) {
	scores, err := ParseScores(`{"scores": {"1": 0.4, "nope": 0.9, "0": 0.3, "2": 1.7}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(scores) != 1 || scores[1] != 0.4 {
		t.Errorf("expected only rank 1 kept, got %v", scores)
	}
}

func TestParseScoresInvalid(t *testing.T) {
	if _, err := ParseScores("not json at all"); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := ParseScores(`{"verdict": "great"}`); err == nil {
		t.Error("expected error when scores are absent")
	}
}

func TestParseScoresEmpty(t *testing.T) {
	if _, err := ParseScores(""); err == nil {
		t.Error("expected error for empty string")
	}
}
