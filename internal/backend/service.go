package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/intake/internal/observability"
	"github.com/pitabwire/intake/internal/openapi"
	"github.com/pitabwire/intake/internal/transport"
	"github.com/pitabwire/intake/model"
)

const maxBodyBytes = 1 << 20

// AnswerUpdatedMessage is the message of a successful answer update.
const AnswerUpdatedMessage = "Answer updated successfully"

var questionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Service serves the intake REST contract from a Repository.
type Service struct {
	repo     Repository
	sim      *Simulator
	contract *openapi.Contract
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSimulator injects latency and failures into answer updates.
func WithSimulator(sim *Simulator) Option {
	return func(s *Service) { s.sim = sim }
}

// WithContract checks request bodies against contract.
func WithContract(c *openapi.Contract) Option {
	return func(s *Service) { s.contract = c }
}

// WithMetrics records answer update and failure metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the fallback logger used when a request carries none.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the time source for update and submission stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service over repo.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers the contract endpoints.
func (s *Service) Routes(r chi.Router) {
	r.Get("/schemas", s.handleSchemas)
	r.Get("/requests", s.handleRequests)
	r.Put("/requests/{requestId}/question/{questionId}", s.handleUpdateAnswer)
	r.Post("/submissions", s.handleCreateSubmission)
}

func (s *Service) handleSchemas(w http.ResponseWriter, r *http.Request) {
	templates, err := s.repo.Templates(r.Context())
	if err != nil {
		s.fail(w, r, "listing templates", err)
		return
	}
	s.metrics.SetTemplatesLoaded(len(templates))
	transport.WriteJSON(w, http.StatusOK, templates)
}

func (s *Service) handleRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.repo.Requests(r.Context())
	if err != nil {
		s.fail(w, r, "listing requests", err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, reqs)
}

func (s *Service) handleUpdateAnswer(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	questionID := chi.URLParam(r, "questionId")

	ctx, span := observability.StartSpan(r.Context(), "backend.updateAnswer",
		observability.AttrRequestID.String(requestID),
		observability.AttrFieldID.String(questionID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	if !questionIDPattern.MatchString(questionID) {
		err = model.NewBadRequestError("Invalid question ID")
		s.reject(w, err)
		return
	}

	var body map[string]any
	if body, err = s.decode(r, openapi.OpUpdateQuestionAnswer); err != nil {
		s.reject(w, err)
		return
	}

	if failure, ok := s.sim.Failure(); ok {
		err = failure
		s.metrics.RecordSimulatedFailure(failure.Status)
		if s.wait(w, r) {
			observability.LoggerFrom(ctx, s.logger).Debug("simulated answer update failure",
				zap.String("request_id", requestID),
				zap.String("question_id", questionID),
				zap.Int("status", failure.Status),
			)
			s.reject(w, failure)
		}
		return
	}

	var q model.Question
	q, err = s.repo.SetAnswer(ctx, requestID, questionID, body["answer"], s.now().UTC())
	if err != nil {
		s.reject(w, err)
		return
	}

	if !s.wait(w, r) {
		return
	}
	s.metrics.RecordAnswerUpdate(http.StatusOK)
	transport.WriteJSON(w, http.StatusOK, model.AnswerUpdate{
		Success: true,
		Message: AnswerUpdatedMessage,
		Data: model.AnswerData{
			QuestionID: q.ID,
			Answer:     q.Answer,
			UpdatedAt:  *q.UpdatedAt,
		},
		Timestamp: s.now().UTC(),
	})
}

func (s *Service) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	if err := s.check(openapi.OpCreateSubmission, body); err != nil {
		transport.WriteError(w, err)
		return
	}

	var sub model.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		transport.WriteBadRequest(w, fmt.Sprintf("Invalid submission: %v", err))
		return
	}
	if sub.RequestData == nil {
		transport.WriteBadRequest(w, "Invalid submission: requestData is required")
		return
	}

	id, err := s.repo.AddSubmission(r.Context(), sub)
	if err != nil {
		s.fail(w, r, "storing submission", err)
		return
	}

	observability.LoggerFrom(r.Context(), s.logger).Info("submission stored",
		zap.Int("submission_id", id),
		zap.String("template_id", sub.RequestData.ID),
	)
	transport.WriteJSON(w, http.StatusCreated, model.SubmissionReceipt{
		ID:          id,
		Success:     true,
		Message:     model.SubmissionMessage,
		SubmittedAt: s.now().UTC(),
	})
}

// decode reads a JSON object body and checks it against the contract.
func (s *Service) decode(r *http.Request, operationID string) (map[string]any, error) {
	data, err := s.readBody(r)
	if err != nil {
		return nil, err
	}
	if err := s.check(operationID, data); err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, model.NewBadRequestError("Invalid request format")
	}
	return body, nil
}

func (s *Service) readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, model.NewBadRequestError("Invalid request format")
	}
	return data, nil
}

// check validates a body against the operation's request schema. Without a
// contract only JSON well-formedness is checked.
func (s *Service) check(operationID string, data []byte) error {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return model.NewBadRequestError("Invalid request format")
	}
	if s.contract == nil {
		return nil
	}

	verrs := s.contract.ValidateBody(operationID, body)
	if len(verrs) == 0 {
		return nil
	}
	details := make([]model.FieldError, len(verrs))
	for i, v := range verrs {
		details[i] = model.FieldError{Field: v.Field, Code: model.ErrBadRequest, Message: v.Message}
	}
	return &model.ErrorEnvelope{
		Code:    model.ErrBadRequest,
		Message: "Invalid request format",
		Status:  http.StatusBadRequest,
		Details: details,
	}
}

// wait applies the simulated latency. It reports false when the request
// was abandoned, after writing a timeout error.
func (s *Service) wait(w http.ResponseWriter, r *http.Request) bool {
	if s.sim == nil {
		return true
	}
	if err := s.sim.Delay(r.Context()); err != nil {
		transport.WriteError(w, model.NewBackendTimeoutError())
		return false
	}
	return true
}

// reject writes a client-visible error and counts it against answer updates.
func (s *Service) reject(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) && ee.Status != 0 {
		s.metrics.RecordAnswerUpdate(ee.Status)
	}
	transport.WriteError(w, err)
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	observability.LoggerFrom(r.Context(), s.logger).Error("backend: "+action, zap.Error(err))
	transport.WriteError(w, err)
}
