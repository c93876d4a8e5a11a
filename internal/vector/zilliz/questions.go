package zilliz

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rennixue/question-app/internal/question"
)

var questionFields = []string{"question_id", "content", "question_type", "university", "major", "course_code", "exam_year"}

// QuestionIndex searches the past-exam question collection.
type QuestionIndex struct {
	db         searcher
	collection string
	log        *zap.Logger
}

func NewQuestionIndex(c *Client, collection string, log *zap.Logger) *QuestionIndex {
	return &QuestionIndex{db: c, collection: collection, log: log}
}

func (x *QuestionIndex) SearchSameCourse(ctx context.Context, q question.SearchQuery) ([]question.Question, error) {
	clauses := []string{
		eq("course_code", q.CourseCode),
		eq("university", q.University),
	}
	return x.search(ctx, q, question.SourceSameCourse, clauses)
}

func (x *QuestionIndex) SearchSameUniversity(ctx context.Context, q question.SearchQuery) ([]question.Question, error) {
	clauses := []string{eq("university", q.University)}
	if q.ExcludeCourseCode != "" {
		clauses = append(clauses, "course_code != "+strconv.Quote(q.ExcludeCourseCode))
	}
	return x.search(ctx, q, question.SourceSameUniversity, clauses)
}

func (x *QuestionIndex) SearchHistorical(ctx context.Context, q question.SearchQuery) ([]question.Question, error) {
	var clauses []string
	if len(q.Majors) > 0 {
		quoted := make([]string, len(q.Majors))
		for i, m := range q.Majors {
			quoted[i] = strconv.Quote(m)
		}
		clauses = append(clauses, "major in ["+strings.Join(quoted, ", ")+"]")
	}
	if q.ExcludeUniversity != "" {
		clauses = append(clauses, "university != "+strconv.Quote(q.ExcludeUniversity))
	}
	if q.ExcludeCourseCode != "" && q.University != "" {
		clauses = append(clauses, "not ("+eq("course_code", q.ExcludeCourseCode)+" && "+eq("university", q.University)+")")
	}
	return x.search(ctx, q, question.SourceHistorical, clauses)
}

func (x *QuestionIndex) search(ctx context.Context, q question.SearchQuery, src question.Source, clauses []string) ([]question.Question, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	if kw := q.Type.Keyword(); kw != "" {
		clauses = append(clauses, eq("question_type", kw))
	}

	rows, err := x.db.search(ctx, searchRequest{
		collection:   x.collection,
		expr:         strings.Join(clauses, " && "),
		outputFields: questionFields,
		vector:       q.QueryVector,
		topK:         overFetch(q.Limit, 10),
	})
	if err != nil {
		return nil, err
	}

	rows = rerank(rows, append([]string{q.Topic}, q.Synonyms...))
	if len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	out := make([]question.Question, len(rows))
	for i, r := range rows {
		out[i] = toQuestion(r, src)
	}
	x.log.Debug("Questions searched", zap.Stringer("source", src), zap.Int("count", len(out)))
	return out, nil
}

// overFetch is how many hits to ask for so that reranking has room:
// min(max(floor, 2·limit), limit+floor).
func overFetch(limit, floor int) int {
	return min(max(floor, 2*limit), limit+floor)
}

func eq(field, value string) string {
	return field + " == " + strconv.Quote(value)
}

// rerank puts hits that mention one of the keywords first, each group by
// descending vector score.
func rerank(rows []row, keywords []string) []row {
	var lowered []string
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	mentions := func(r row) int {
		content := strings.ToLower(r.str("content"))
		for _, k := range lowered {
			if strings.Contains(content, k) {
				return 1
			}
		}
		return 0
	}

	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b row) int {
		if d := mentions(b) - mentions(a); d != 0 {
			return d
		}
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return 0
		}
	})
	return out
}

func toQuestion(r row, src question.Source) question.Question {
	q := question.NewQuestion(r.str("content"), src, question.TypeFromKeyword(r.str("question_type")))
	if id := r.int64("question_id"); id != 0 {
		q.ID = question.IDFromInt(id)
	}
	q.MetaInfo = metaInfo(r)
	return q
}

// metaInfo renders "<year> - <university> - <major> - <course_code>" with
// "/" for missing parts. The year is left out when unknown.
func metaInfo(r row) string {
	part := func(name string) string {
		if s := strings.TrimSpace(r.str(name)); s != "" {
			return s
		}
		return "/"
	}
	meta := part("university") + " - " + part("major") + " - " + part("course_code")
	if y := r.int64("exam_year"); y > 0 {
		meta = strconv.FormatInt(y, 10) + " - " + meta
	}
	return meta
}
