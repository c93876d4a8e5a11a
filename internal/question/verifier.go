package question

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/rennixue/question-app/pkg/utils"
)

// Verifier asks the agent which retrieved questions the key points make
// solvable. Questions stay in unless the agent explicitly rejects them.
type Verifier struct {
	agent    Agent
	maxChars int
	log      *zap.Logger
}

func NewVerifier(agent Agent, maxChars int, log *zap.Logger) *Verifier {
	if maxChars <= 0 {
		maxChars = 1000
	}
	return &Verifier{agent: agent, maxChars: maxChars, log: log}
}

type judgement struct {
	QuestionIndex json.RawMessage `json:"question_index"`
	CanBeSolved   json.RawMessage `json:"can_be_solved"`
}

func (v *Verifier) Verify(ctx context.Context, qs []Question, topic string, kps []KeyPoint) ([]Question, error) {
	if len(qs) == 0 {
		return nil, nil
	}

	contents := make([]string, len(qs))
	for i, q := range qs {
		contents[i] = utils.TruncateRunes(q.Content, v.maxChars)
	}
	raw, err := v.agent.VerifyQuestions(ctx, VerifyPrompt{Topic: topic, KeyPoints: kps, Questions: contents})
	if err != nil {
		return nil, fmt.Errorf("failed to verify questions: %w", err)
	}

	keep := make([]bool, len(qs))
	for i := range keep {
		keep[i] = true
	}
	for _, idx := range v.rejected(raw, len(qs)) {
		keep[idx] = false
	}

	out := make([]Question, 0, len(qs))
	var excluded []string
	for i, q := range qs {
		if keep[i] {
			out = append(out, q)
		} else {
			excluded = append(excluded, q.ID.String())
		}
	}
	if len(excluded) > 0 {
		v.log.Info("Questions excluded by verification",
			zap.String("topic", topic),
			zap.Strings("question_ids", excluded),
		)
	}
	return out, nil
}

// rejected returns the indices the agent judged unsolvable. Entries that do
// not parse are skipped one by one.
func (v *Verifier) rejected(raw string, n int) []int {
	payload, err := fencedJSON(raw)
	if err != nil {
		return nil
	}
	var body struct {
		Judgements []json.RawMessage `json:"judgements"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		v.log.Warn("Malformed verification payload, keeping all questions", zap.Error(err))
		return nil
	}

	var out []int
	for _, entry := range body.Judgements {
		var j judgement
		if err := json.Unmarshal(entry, &j); err != nil {
			continue
		}
		idx, ok := parseIndex(j.QuestionIndex)
		if !ok || idx < 0 || idx >= n {
			continue
		}
		var solvable bool
		if err := json.Unmarshal(j.CanBeSolved, &solvable); err != nil {
			continue
		}
		if !solvable {
			out = append(out, idx)
		}
	}
	return out
}

// parseIndex accepts 2, 2.0 and "2".
func parseIndex(raw json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f != float64(int(f)) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		i, err := strconv.Atoi(s)
		return i, err == nil
	}
	return 0, false
}
