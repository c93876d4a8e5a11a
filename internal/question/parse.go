package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	questionUnit   = regexp.MustCompile(`(?s)<question>(.+?)</question>`)
	contentTag     = regexp.MustCompile(`(?s)<content>(.+?)</content>`)
	typeTag        = regexp.MustCompile(`(?s)<type>(.+?)</type>`)
	summaryTag     = regexp.MustCompile(`(?s)<summary>(.+?)</summary>`)
	entityTag      = regexp.MustCompile(`(?s)<entity>(.+?)</entity>`)
	nameTag        = regexp.MustCompile(`(?s)<name>(.+?)</name>`)
	explanationTag = regexp.MustCompile(`(?s)<explanation>(.+?)</explanation>`)
	strengthTag    = regexp.MustCompile(`(?s)<strength>(.+?)</strength>`)
	jsonFence      = regexp.MustCompile("(?s)```json\n(.+?)\n```")
)

var errNoJSON = errors.New("no json payload in agent output")

type unit struct {
	content string
	typ     Type
}

// questionUnits returns every complete <question> unit in text, in order.
func questionUnits(text string) []unit {
	matches := questionUnit.FindAllStringSubmatch(text, -1)
	units := make([]unit, 0, len(matches))
	for _, m := range matches {
		units = append(units, parseUnit(m[1]))
	}
	return units
}

// parseUnit reads <content> and <type> from one unit. Without <content>
// the whole unit is the content; without <type> it is an open question.
func parseUnit(s string) unit {
	content := strings.TrimSpace(s)
	rest := s
	if loc := contentTag.FindStringSubmatchIndex(s); loc != nil {
		content = strings.TrimSpace(s[loc[2]:loc[3]])
		rest = s[loc[1]:]
	}
	typ := TypeOpen
	if m := typeTag.FindStringSubmatch(rest); m != nil {
		typ = ParseType(strings.TrimSpace(m[1]))
	}
	return unit{content: content, typ: typ}
}

// parseKeyPoints reads the clustering output. The topic itself always comes
// first at strong relevance, explained by <summary> when present.
func parseKeyPoints(topic, text string) []KeyPoint {
	explanation := ""
	rest := text
	if loc := summaryTag.FindStringSubmatchIndex(text); loc != nil {
		explanation = strings.TrimSpace(text[loc[2]:loc[3]])
		rest = text[loc[1]:]
	}

	kps := []KeyPoint{{Name: topic, Explanation: explanation, Relevance: RelevanceStrong}}
	for _, m := range entityTag.FindAllStringSubmatch(rest, -1) {
		if kp, ok := parseEntity(m[1]); ok {
			kps = append(kps, kp)
		}
	}
	return kps
}

func parseEntity(s string) (KeyPoint, bool) {
	m := nameTag.FindStringSubmatch(s)
	if m == nil {
		return KeyPoint{}, false
	}
	kp := KeyPoint{Name: strings.TrimSpace(m[1]), Relevance: RelevanceWeak}
	if m := explanationTag.FindStringSubmatch(s); m != nil {
		kp.Explanation = strings.TrimSpace(m[1])
	}
	if m := strengthTag.FindStringSubmatch(s); m != nil {
		kp.Relevance = Relevance(strings.ToLower(strings.TrimSpace(m[1])))
	}
	return kp, true
}

// fencedJSON extracts the body of the first ```json fence.
func fencedJSON(text string) ([]byte, error) {
	m := jsonFence.FindStringSubmatch(text)
	if m == nil {
		return nil, errNoJSON
	}
	return []byte(strings.TrimSpace(m[1])), nil
}

func parseAnalysis(text string) (Analysis, error) {
	var a Analysis
	raw, err := fencedJSON(text)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return Analysis{}, fmt.Errorf("failed to decode analysis: %w", err)
	}
	return a, nil
}

func parseTerms(text string) (Terms, error) {
	var t Terms
	raw, err := fencedJSON(text)
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return Terms{}, fmt.Errorf("failed to decode terms: %w", err)
	}
	t.PrimaryTerm = strings.TrimSpace(t.PrimaryTerm)
	if len([]rune(t.PrimaryTerm)) < 3 {
		return Terms{}, fmt.Errorf("primary term %q too short", t.PrimaryTerm)
	}
	return t, nil
}
