package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rennixue/question-app/internal/question"
	"github.com/rennixue/question-app/internal/storage/models"
)

// AuditLog records pipeline decisions in the local database.
type AuditLog struct {
	c *Client
}

func NewAuditLog(c *Client) *AuditLog {
	return &AuditLog{c: c}
}

func (a *AuditLog) LogSearch(ctx context.Context, e question.SearchLog) error {
	return a.c.InsertSearch(ctx, &models.SearchRecord{
		TaskID:  e.TaskID,
		IsDev:   e.IsDev,
		Topic:   e.Topic,
		Context: e.Context,
		QType:   e.Type.String(),
	})
}

func (a *AuditLog) LogSearchTerms(ctx context.Context, taskID int64, t question.Terms) error {
	return a.c.InsertSearchTerms(ctx, &models.SearchTermsRecord{
		TaskID:         taskID,
		PrimaryTerm:    t.PrimaryTerm,
		SecondaryTerms: t.SecondaryTerms,
		Synonyms:       t.Synonyms,
	})
}

func (a *AuditLog) LogKnowledge(ctx context.Context, taskID int64, k question.Knowledge) error {
	analysis, err := json.Marshal(k.Analysis)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis: %w", err)
	}
	keyPoints, err := json.Marshal(k.KeyPoints)
	if err != nil {
		return fmt.Errorf("failed to marshal key points: %w", err)
	}
	ids := make([]string, len(k.Chunks))
	for i, ch := range k.Chunks {
		ids[i] = ch.ID
	}
	return a.c.InsertKnowledge(ctx, &models.KnowledgeRecord{
		TaskID:    taskID,
		Analysis:  string(analysis),
		KeyPoints: string(keyPoints),
		ChunkIDs:  ids,
	})
}

func (a *AuditLog) LogVerify(ctx context.Context, taskID int64, isDev bool, src question.Source, records []question.VerifyRecord) error {
	rows := make([]models.VerifyRecord, len(records))
	for i, r := range records {
		rows[i] = models.VerifyRecord{
			TaskID:     taskID,
			IsDev:      isDev,
			Source:     src.String(),
			QuestionID: r.Question.ID.String(),
			Passed:     r.Passed,
			QType:      r.Question.Type.String(),
			Content:    r.Question.Content,
		}
	}
	return a.c.InsertVerifyRecords(ctx, rows)
}
