package model

import (
	"context"
	"time"
)

// Gateway is the backend contract consumed by the wizard core.
type Gateway interface {
	// Schemas fetches the template catalog in backend order.
	Schemas(ctx context.Context) ([]RequestData, error)

	// Requests fetches the existing request records.
	Requests(ctx context.Context) ([]RequestRecord, error)

	// UpdateAnswer persists a single field answer of an existing request.
	UpdateAnswer(ctx context.Context, requestID, fieldID string, answer Value) (AnswerUpdate, error)

	// Submit sends the complete document.
	Submit(ctx context.Context, data FormData) (SubmissionReceipt, error)
}

// RequestRecord is a request stored by the backend.
type RequestRecord struct {
	ID        int        `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Status    string     `json:"status" yaml:"status"`
	CreatedAt time.Time  `json:"createdAt" yaml:"createdAt"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Question is a single stored answer of a request record.
type Question struct {
	ID        string     `json:"id" yaml:"id"`
	Text      string     `json:"text" yaml:"text"`
	Type      string     `json:"type" yaml:"type"`
	Required  bool       `json:"required" yaml:"required"`
	Answer    any        `json:"answer,omitempty" yaml:"answer"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty" yaml:"updatedAt"`
}

// AnswerUpdate is the backend acknowledgement of a field save.
type AnswerUpdate struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Data      AnswerData `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
}

// AnswerData echoes the stored answer.
type AnswerData struct {
	QuestionID string    `json:"questionId"`
	Answer     any       `json:"answer"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// AnswerRequest is the body of a field save.
type AnswerRequest struct {
	Answer any `json:"answer"`
}

// Submission is the body sent when the document is submitted.
type Submission struct {
	RequestData *RequestData `json:"requestData,omitempty"`
	SubmittedAt time.Time    `json:"submittedAt"`
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
}

// SubmissionReceipt is the backend acknowledgement of a submission.
type SubmissionReceipt struct {
	ID          int       `json:"id"`
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// SubmissionMessage is the message attached to submissions and used when the
// backend acknowledges one without a message.
const SubmissionMessage = "Form submitted successfully"
