package models

import "time"

type SearchRecord struct {
	ID        int64
	TaskID    int64
	IsDev     bool
	Topic     string
	Context   string
	QType     string
	CreatedAt time.Time
}

type SearchTermsRecord struct {
	TaskID         int64
	PrimaryTerm    string
	SecondaryTerms []string
	Synonyms       []string
	CreatedAt      time.Time
}

type KnowledgeRecord struct {
	TaskID    int64
	Analysis  string
	KeyPoints string
	ChunkIDs  []string
	CreatedAt time.Time
}

type VerifyRecord struct {
	TaskID     int64
	IsDev      bool
	Source     string
	QuestionID string
	Passed     bool
	QType      string
	Content    string
	CreatedAt  time.Time
}
