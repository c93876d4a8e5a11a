package question

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	yearPattern    = regexp.MustCompile(`^(20\d{2})\b`)
	headingPattern = regexp.MustCompile(`(?m)^#{1,4} (.+)$`)
	optionPattern  = regexp.MustCompile(`(?m)^[A-Z]\) `)
	courseCodeJunk = regexp.MustCompile(`[^A-Z0-9]`)
)

// ExamYear reads the leading 20xx year of meta info, 0 when it does not
// start with one. A course code such as 2024 later in the line is not a year.
func ExamYear(meta string) int {
	m := yearPattern.FindStringSubmatch(meta)
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}

// SortByYear orders questions newest exam first. Questions without a year
// go last; ties keep their retrieval order.
func SortByYear(qs []Question) []Question {
	out := slices.Clone(qs)
	slices.SortStableFunc(out, func(a, b Question) int {
		return ExamYear(b.MetaInfo) - ExamYear(a.MetaInfo)
	})
	return out
}

// StripHeadings turns markdown headings into bold lines.
func StripHeadings(qs []Question) []Question {
	out := slices.Clone(qs)
	for i := range out {
		out[i].Content = headingPattern.ReplaceAllString(out[i].Content, "**$1**")
	}
	return out
}

// ReorderChoices shuffles the options of a multiple-choice question and
// letters them again from A. Text that does not split into a stem plus 3 to
// 6 options is returned unchanged.
func ReorderChoices(text string, shuffle func(n int, swap func(i, j int))) string {
	s := strings.TrimSpace(text)
	parts := optionPattern.Split(s, -1)
	if len(parts) <= 3 || len(parts) >= 8 {
		return text
	}

	stem := parts[0]
	options := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		options = append(options, strings.TrimSpace(p))
	}
	shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })

	var b strings.Builder
	b.WriteString(stem)
	for i, opt := range options {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteByte(byte('A' + i))
		b.WriteString(") ")
		b.WriteString(opt)
	}
	return b.String()
}

// NormalizeCourseCode upper-cases the code, drops anything but letters and
// digits, then strips leading zeros: "comp-101" becomes "COMP101".
func NormalizeCourseCode(code string) string {
	s := courseCodeJunk.ReplaceAllString(strings.ToUpper(code), "")
	return strings.TrimLeft(s, "0")
}
