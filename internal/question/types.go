package question

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source tells where a question came from. It doubles as the tag of a
// block sequence on the stream.
type Source int

const (
	SourceSameCourse Source = iota + 1
	SourceSameUniversity
	SourceHistorical
	SourceGenerated
	SourceRewritten
	SourceImitated
)

func (s Source) String() string {
	switch s {
	case SourceSameCourse:
		return "same_course"
	case SourceSameUniversity:
		return "same_university"
	case SourceHistorical:
		return "historical"
	case SourceGenerated:
		return "generated"
	case SourceRewritten:
		return "rewritten"
	case SourceImitated:
		return "imitated"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Code is the integer used by the courseware platform callback.
func (s Source) Code() int {
	switch s {
	case SourceSameCourse:
		return 2
	case SourceHistorical:
		return 4
	case SourceSameUniversity:
		return 5
	default:
		return 3
	}
}

func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

type Type int

const (
	TypeAny Type = iota
	TypeCalculation
	TypeMultipleChoice
	TypeOpen
)

func (t Type) String() string {
	switch t {
	case TypeAny:
		return "any"
	case TypeCalculation:
		return "calculation"
	case TypeMultipleChoice:
		return "multiple choice"
	case TypeOpen:
		return "open"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// ParseType reads the type an agent wrote inside <type>. Anything
// unrecognised is an open question.
func ParseType(s string) Type {
	switch s {
	case "calculation":
		return TypeCalculation
	case "multiple choice":
		return TypeMultipleChoice
	default:
		return TypeOpen
	}
}

// TypeFromCode maps the request's question_type field.
func TypeFromCode(code int) (Type, error) {
	switch code {
	case 0:
		return TypeAny, nil
	case 1:
		return TypeMultipleChoice, nil
	case 2:
		return TypeOpen, nil
	case 4:
		return TypeCalculation, nil
	default:
		return TypeAny, fmt.Errorf("invalid question_type %d", code)
	}
}

// Code is the integer used by the courseware platform. Any has no code of
// its own and maps to 0.
func (t Type) Code() int {
	switch t {
	case TypeMultipleChoice:
		return 1
	case TypeOpen:
		return 2
	case TypeCalculation:
		return 4
	default:
		return 0
	}
}

// Keyword is the value stored in the question index, empty for Any.
func (t Type) Keyword() string {
	switch t {
	case TypeCalculation:
		return "calculation"
	case TypeMultipleChoice:
		return "mcq"
	case TypeOpen:
		return "open"
	default:
		return ""
	}
}

func TypeFromKeyword(s string) Type {
	switch s {
	case "calculation":
		return TypeCalculation
	case "mcq":
		return TypeMultipleChoice
	default:
		return TypeOpen
	}
}

// Natural renders the type for prompts.
func (t Type) Natural() string {
	switch t {
	case TypeCalculation:
		return "a calculation question"
	case TypeMultipleChoice:
		return "a multiple choice question"
	case TypeOpen:
		return "an open question"
	default:
		return "a question of any type"
	}
}

type Question struct {
	ID       uuid.UUID
	Content  string
	Source   Source
	Type     Type
	MetaInfo string
	BatchNo  int
}

func NewQuestion(content string, src Source, typ Type) Question {
	return Question{ID: uuid.New(), Content: content, Source: src, Type: typ, BatchNo: 1}
}

// IDFromInt builds the identifier of an indexed question from its numeric
// primary key.
func IDFromInt(n int64) uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], uint64(n))
	return id
}

func (q Question) MarshalJSON() ([]byte, error) {
	var meta *string
	if q.MetaInfo != "" {
		meta = &q.MetaInfo
	}
	return json.Marshal(struct {
		ID       string  `json:"id"`
		Content  string  `json:"content"`
		Source   Source  `json:"source"`
		Type     Type    `json:"type"`
		MetaInfo *string `json:"meta_info"`
		BatchNo  int     `json:"batch_no"`
	}{q.ID.String(), q.Content, q.Source, q.Type, meta, q.BatchNo})
}

type Relevance string

const (
	RelevanceWeak   Relevance = "weak"
	RelevanceMedium Relevance = "medium"
	RelevanceStrong Relevance = "strong"
)

// rank orders relevances; unknown values rank with weak.
func (r Relevance) rank() int {
	switch r {
	case RelevanceStrong:
		return 2
	case RelevanceMedium:
		return 1
	default:
		return 0
	}
}

type KeyPoint struct {
	Name        string    `json:"name"`
	Explanation string    `json:"explanation"`
	Relevance   Relevance `json:"relevance"`
}

// Analysis is the structured reading of the free-text context of a request.
type Analysis struct {
	KeyConcepts         string `json:"key_concepts"`
	Requirement         string `json:"requirement"`
	ReferentialQuestion string `json:"referential_question"`
	OtherInfo           string `json:"other_info"`
}

type Chunk struct {
	ID   string
	Text string
}

// Knowledge is what the extractor hands to verification and generation.
type Knowledge struct {
	Analysis  Analysis
	KeyPoints []KeyPoint
	Chunks    []Chunk
}

// Terms is the normalised reading of a topic.
type Terms struct {
	PrimaryTerm    string   `json:"primary_term"`
	SecondaryTerms []string `json:"secondary_terms"`
	Synonyms       []string `json:"synonyms"`
}

type Section struct {
	Source  Source
	BatchNo int
	Count   int
	Elapsed time.Duration
}

func defaultSections() []Section {
	return []Section{
		{Source: SourceSameCourse, BatchNo: 1},
		{Source: SourceSameUniversity, BatchNo: 1},
		{Source: SourceHistorical, BatchNo: 1},
		{Source: SourceGenerated, BatchNo: 1},
		{Source: SourceGenerated, BatchNo: 2},
	}
}

// Request is one generation job after validation.
type Request struct {
	TaskID     int64
	CourseID   int64
	Topic      string
	Context    string
	Type       Type
	Major      string
	CourseName string
	CourseCode string
	University string
}
