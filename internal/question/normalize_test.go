package question

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortByYear(t *testing.T) {
	qs := []Question{
		{Content: "a", MetaInfo: "2019 - Monash - Finance - FIN101"},
		{Content: "b", MetaInfo: "/ - Monash - Finance - FIN101"},
		{Content: "c", MetaInfo: "2023 - Monash - Finance - FIN101"},
		{Content: "d", MetaInfo: "Monash - Finance - 2024"},
	}

	sorted := SortByYear(qs)

	got := []string{sorted[0].Content, sorted[1].Content, sorted[2].Content, sorted[3].Content}
	assert.Equal(t, []string{"c", "a", "b", "d"}, got, "a numeric course code is not an exam year")
	assert.Equal(t, "a", qs[0].Content, "input must not be reordered")
}

func TestSortByYearIsStable(t *testing.T) {
	qs := []Question{
		{Content: "first"},
		{Content: "second", MetaInfo: "2020"},
		{Content: "third"},
	}
	sorted := SortByYear(qs)
	assert.Equal(t, "second", sorted[0].Content)
	assert.Equal(t, "first", sorted[1].Content)
	assert.Equal(t, "third", sorted[2].Content)
}

func TestExamYear(t *testing.T) {
	assert.Equal(t, 2021, ExamYear("2021 - UNSW"))
	assert.Equal(t, 0, ExamYear("ACCT12021"))
	assert.Equal(t, 0, ExamYear(""))
	assert.Equal(t, 0, ExamYear("UNSW - Accounting - 2024"))
	assert.Equal(t, 2019, ExamYear("2019 - UNSW - Accounting - 2024"))
}

func TestStripHeadings(t *testing.T) {
	qs := []Question{{Content: "# Part A\nExplain beta.\n#### Note\n##### too deep"}}
	out := StripHeadings(qs)
	assert.Equal(t, "**Part A**\nExplain beta.\n**Note**\n##### too deep", out[0].Content)
}

func TestReorderChoicesFourOptions(t *testing.T) {
	text := "Which one is a prime?\nA) 4\nB) 6\nC) 7\nD) 9"
	rng := rand.New(rand.NewSource(7))

	out := ReorderChoices(text, rng.Shuffle)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Which one is a prime?", lines[0])
	var opts []string
	for i, l := range lines[1:] {
		prefix := string(rune('A'+i)) + ") "
		require.True(t, strings.HasPrefix(l, prefix), l)
		opts = append(opts, strings.TrimPrefix(l, prefix))
	}
	assert.ElementsMatch(t, []string{"4", "6", "7", "9"}, opts)
}

func TestReorderChoicesReletters(t *testing.T) {
	reverse := func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}
	out := ReorderChoices("Pick:\nA) x\nB) y\nC) z\nD) w", reverse)
	assert.Equal(t, "Pick:\nA) w\nB) z\nC) y\nD) x", out)
}

func TestReorderChoicesLeavesMalformedAlone(t *testing.T) {
	never := func(int, func(i, j int)) { t.Fatal("shuffle must not run") }

	twoOptions := "Pick:\nA) x\nB) y"
	assert.Equal(t, twoOptions, ReorderChoices(twoOptions, never))

	var b strings.Builder
	b.WriteString("Pick:")
	for i := 0; i < 7; i++ {
		b.WriteString("\n" + string(rune('A'+i)) + ") opt")
	}
	assert.Equal(t, b.String(), ReorderChoices(b.String(), never))
}

func TestNormalizeCourseCode(t *testing.T) {
	assert.Equal(t, "COMP101", NormalizeCourseCode(" comp-101 "))
	assert.Equal(t, "101", NormalizeCourseCode("0101"))
	assert.Equal(t, "", NormalizeCourseCode("--"))
}
