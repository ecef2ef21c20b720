package backend

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/pitabwire/intake/internal/catalog"
	"github.com/pitabwire/intake/model"
)

// Repository stores templates, requests, and submissions.
type Repository interface {
	// Templates returns the request templates in catalog order.
	Templates(ctx context.Context) ([]model.RequestData, error)

	// Requests returns the persisted requests.
	Requests(ctx context.Context) ([]model.RequestRecord, error)

	// SetAnswer stores the answer of one question of a request. It returns a
	// NOT_FOUND envelope when the request or the question does not exist.
	SetAnswer(ctx context.Context, requestID, questionID string, answer any, at time.Time) (model.Question, error)

	// AddSubmission stores a submission and returns its sequential id.
	AddSubmission(ctx context.Context, sub model.Submission) (int, error)
}

// MemoryRepository is an in-memory Repository. Suitable for tests and the
// reference server; nothing survives a restart.
type MemoryRepository struct {
	templates *catalog.Registry

	mu          sync.RWMutex
	requests    []model.RequestRecord
	submissions []storedSubmission
}

type storedSubmission struct {
	ID         int
	Submission model.Submission
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a repository holding a copy of the seed.
func NewMemoryRepository(seed Seed) *MemoryRepository {
	reqs := make([]model.RequestRecord, len(seed.Requests))
	for i, r := range seed.Requests {
		reqs[i] = cloneRecord(r)
	}
	return &MemoryRepository{
		templates: catalog.NewRegistry(seed.Templates),
		requests:  reqs,
	}
}

// Templates returns the request templates.
func (r *MemoryRepository) Templates(_ context.Context) ([]model.RequestData, error) {
	return r.templates.All(), nil
}

// TemplateCount returns the number of templates served.
func (r *MemoryRepository) TemplateCount() int {
	return r.templates.Len()
}

// Loaded reports whether any template is available.
func (r *MemoryRepository) Loaded() bool {
	return r.templates.Loaded()
}

// Requests returns a copy of the persisted requests.
func (r *MemoryRepository) Requests(_ context.Context) ([]model.RequestRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.RequestRecord, len(r.requests))
	for i, rec := range r.requests {
		out[i] = cloneRecord(rec)
	}
	return out, nil
}

// SetAnswer stores an answer and stamps the question's update time.
func (r *MemoryRepository) SetAnswer(_ context.Context, requestID, questionID string, answer any, at time.Time) (model.Question, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ri := slices.IndexFunc(r.requests, func(rec model.RequestRecord) bool {
		return recordKey(rec) == requestID
	})
	if ri < 0 {
		return model.Question{}, model.NewNotFoundError("Request not found")
	}

	rec := &r.requests[ri]
	qi := slices.IndexFunc(rec.Questions, func(q model.Question) bool { return q.ID == questionID })
	if qi < 0 {
		return model.Question{}, model.NewNotFoundError("Question not found")
	}

	// Replace the question slice so copies handed out earlier stay intact.
	questions := slices.Clone(rec.Questions)
	stamp := at
	questions[qi].Answer = answer
	questions[qi].UpdatedAt = &stamp
	rec.Questions = questions

	return questions[qi], nil
}

// AddSubmission stores a submission under the next sequential id.
func (r *MemoryRepository) AddSubmission(_ context.Context, sub model.Submission) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := 1
	for _, s := range r.submissions {
		if s.ID >= id {
			id = s.ID + 1
		}
	}
	r.submissions = append(r.submissions, storedSubmission{ID: id, Submission: sub})
	return id, nil
}

// Submissions returns the number of stored submissions.
func (r *MemoryRepository) Submissions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.submissions)
}

// HealthCheck implements observability.HealthChecker.
func (r *MemoryRepository) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func recordKey(rec model.RequestRecord) string {
	return strconv.Itoa(rec.ID)
}

func cloneRecord(rec model.RequestRecord) model.RequestRecord {
	rec.Questions = slices.Clone(rec.Questions)
	return rec
}
