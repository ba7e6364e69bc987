package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// scoreEnvelope is the rerank response shape the prompt asks for:
// {"scores": {"1": 0.8, "2": 0.15}}. Keys are 1-based candidate ranks.
type scoreEnvelope struct {
	Scores map[string]float64 `json:"scores"`
}

// ParseScores decodes a rerank response into per-rank relevance scores.
// Models often wrap the JSON in a markdown code fence despite being told
// not to; the fence is stripped before decoding. Ranks that fail to parse
// or score outside [0,1] are dropped rather than failing the batch.
func ParseScores(text string) (map[int]float64, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}

	var env scoreEnvelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, fmt.Errorf("decoding scores: %w", err)
	}
	if len(env.Scores) == 0 {
		return nil, fmt.Errorf("response carries no scores")
	}

	out := make(map[int]float64, len(env.Scores))
	for key, score := range env.Scores {
		var rank int
		if _, err := fmt.Sscanf(key, "%d", &rank); err != nil || rank < 1 {
			continue
		}
		if score < 0 || score > 1 {
			continue
		}
		out[rank] = score
	}
	return out, nil
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.Join(lines[1:endIdx], "\n")
}
