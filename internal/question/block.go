package question

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusStart      Status = "start"
	StatusProgress   Status = "progress"
	StatusFinish     Status = "finish"
	StatusCheckpoint Status = "checkpoint"
)

// Block is one unit of the push stream. The set of implementations is
// closed; each variant carries only the fields legal for its status.
type Block interface {
	json.Marshaler
	block()
}

type StartBlock struct {
	Source Source
}

type ProgressBlock struct {
	Source    Source
	Questions []Question
}

type CheckpointBlock struct {
	Source  Source
	Count   int
	Elapsed time.Duration
}

type FinishBlock struct {
	Source  Source
	Count   int
	Elapsed time.Duration
}

// DoneBlock is the terminal block of every stream.
type DoneBlock struct {
	Count   int
	Elapsed time.Duration
}

func (StartBlock) block()      {}
func (ProgressBlock) block()   {}
func (CheckpointBlock) block() {}
func (FinishBlock) block()     {}
func (DoneBlock) block()       {}

// wireBlock is the flattened shape; absent fields stay null.
type wireBlock struct {
	Done      bool       `json:"done"`
	QSrc      *Source    `json:"q_src"`
	Status    *Status    `json:"status"`
	Count     *int       `json:"count"`
	Time      *float64   `json:"time"`
	Questions []Question `json:"questions"`
}

func seconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}

func tagged(src Source, st Status) wireBlock {
	return wireBlock{QSrc: &src, Status: &st}
}

func (b StartBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(tagged(b.Source, StatusStart))
}

func (b ProgressBlock) MarshalJSON() ([]byte, error) {
	w := tagged(b.Source, StatusProgress)
	w.Questions = b.Questions
	if w.Questions == nil {
		w.Questions = []Question{}
	}
	return json.Marshal(w)
}

func (b CheckpointBlock) MarshalJSON() ([]byte, error) {
	w := tagged(b.Source, StatusCheckpoint)
	w.Count, w.Time = &b.Count, seconds(b.Elapsed)
	return json.Marshal(w)
}

func (b FinishBlock) MarshalJSON() ([]byte, error) {
	w := tagged(b.Source, StatusFinish)
	w.Count, w.Time = &b.Count, seconds(b.Elapsed)
	return json.Marshal(w)
}

func (b DoneBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireBlock{Done: true, Count: &b.Count, Time: seconds(b.Elapsed)})
}

// EncodeSSE frames a block as a server-sent event.
func EncodeSSE(b Block) ([]byte, error) {
	data, err := b.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode block: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + 8)
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
