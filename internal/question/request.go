package question

import (
	"errors"
	"fmt"
	"strings"
)

// GenerateRequest is the body of a generate-blocks call.
type GenerateRequest struct {
	TaskID         int64   `json:"task_id"`
	CourseID       int64   `json:"course_id"`
	ExamKP         string  `json:"exam_kp"`
	Context        *string `json:"context"`
	QuestionType   *int    `json:"question_type"`
	MajorName      *string `json:"major_name"`
	CourseName     *string `json:"course_name"`
	CourseCode     *string `json:"course_code"`
	UniversityName *string `json:"university_name"`
}

// Validate checks the body and converts it into a Request.
func (r GenerateRequest) Validate() (Request, error) {
	typ, err := validateForm(r.ExamKP, r.QuestionType)
	if err != nil {
		return Request{}, err
	}
	return Request{
		TaskID:     r.TaskID,
		CourseID:   r.CourseID,
		Topic:      r.ExamKP,
		Context:    deref(r.Context),
		Type:       typ,
		Major:      strings.TrimSpace(deref(r.MajorName)),
		CourseName: strings.TrimSpace(deref(r.CourseName)),
		CourseCode: deref(r.CourseCode),
		University: strings.TrimSpace(deref(r.UniversityName)),
	}, nil
}

// RewriteRequest asks for an existing question to be rewritten.
type RewriteRequest struct {
	ExamKP          string  `json:"exam_kp"`
	Context         *string `json:"context"`
	QuestionType    *int    `json:"question_type"`
	RewrittenFrom   int64   `json:"rewritten_from"`
	RewrittenFromNo string  `json:"rewritten_from_no"`
	RewrittenPrompt string  `json:"rewritten_prompt"`
	Question        string  `json:"question"`
}

func (r RewriteRequest) Validate() (RewriteJob, error) {
	typ, err := validateForm(r.ExamKP, r.QuestionType)
	if err != nil {
		return RewriteJob{}, err
	}
	if r.RewrittenPrompt == "" {
		return RewriteJob{}, errors.New("rewritten_prompt must not be empty")
	}
	if r.Question == "" {
		return RewriteJob{}, errors.New("question must not be empty")
	}
	return RewriteJob{
		QuestionID: r.RewrittenFrom,
		QuestionNo: r.RewrittenFromNo,
		Topic:      r.ExamKP,
		Context:    deref(r.Context),
		Type:       typ,
		Prompt:     r.RewrittenPrompt,
		Question:   r.Question,
	}, nil
}

func validateForm(topic string, code *int) (Type, error) {
	if topic == "" {
		return TypeAny, errors.New("exam_kp must not be empty")
	}
	if code == nil {
		return TypeAny, errors.New("question_type is required")
	}
	typ, err := TypeFromCode(*code)
	if err != nil {
		return TypeAny, fmt.Errorf("the value of question_type is invalid: %w", err)
	}
	return typ, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
