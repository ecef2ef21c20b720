package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/intake/internal/store"
	"github.com/pitabwire/intake/model"
)

type fakeGateway struct {
	mu          sync.Mutex
	schemaCalls int
	submitErr   error
	submitted   []model.FormData
	sessions    []*model.SessionContext
}

func (g *fakeGateway) Schemas(context.Context) ([]model.RequestData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.schemaCalls++
	return []model.RequestData{
		{ID: "software-request", Title: "Software Request", Sections: []model.Section{
			{ID: "requested-item", Title: "Requested Item", Fields: []model.Field{
				{ID: "itemName", Label: "Item Name", Type: model.FieldText, Required: true},
				{ID: "quantity", Label: "Quantity", Type: model.FieldNumber, Required: true},
			}},
			{ID: "vendor-info", Title: "Vendor Information", Fields: []model.Field{
				{ID: "vendorName", Label: "Vendor Name", Type: model.FieldText, Required: true},
			}},
		}},
		{ID: "hardware-request", Title: "Hardware Request", Sections: []model.Section{
			{ID: "requested-item", Title: "Requested Item", Fields: []model.Field{
				{ID: "itemName", Label: "Item Name", Type: model.FieldText, Required: true},
			}},
		}},
	}, nil
}

func (g *fakeGateway) Requests(context.Context) ([]model.RequestRecord, error) { return nil, nil }

func (g *fakeGateway) UpdateAnswer(context.Context, string, string, model.Value) (model.AnswerUpdate, error) {
	return model.AnswerUpdate{Success: true}, nil
}

func (g *fakeGateway) Submit(ctx context.Context, data model.FormData) (model.SubmissionReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, data)
	g.sessions = append(g.sessions, model.SessionContextFrom(ctx))
	if g.submitErr != nil {
		return model.SubmissionReceipt{}, g.submitErr
	}
	return model.SubmissionReceipt{ID: 1, Success: true, Message: model.SubmissionMessage}, nil
}

func newNavigator(t *testing.T) (*Navigator, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{}
	n := New(store.New(gw), WithRequestID("1"))
	require.NoError(t, n.Start(context.Background()))
	return n, gw
}

func TestNavigator_full_flow(t *testing.T) {
	n, gw := newNavigator(t)
	ctx := context.Background()
	assert.Equal(t, Step{Kind: StepSelect}, n.Current())

	step, err := n.Choose("software")
	require.NoError(t, err)
	assert.Equal(t, Step{Kind: StepSection, Index: 0}, step)

	section, ok := n.Section()
	require.True(t, ok)
	assert.Equal(t, "requested-item", section.ID)
	assert.False(t, n.IsLastSection())

	step, err = n.Next(ctx, map[string]any{"itemName": "Adobe Creative Suite", "quantity": 3})
	require.NoError(t, err)
	assert.Equal(t, Step{Kind: StepSection, Index: 1}, step)
	assert.True(t, n.IsLastSection())

	step, err = n.Next(ctx, map[string]any{"vendorName": "Adobe Inc"})
	require.NoError(t, err)
	assert.Equal(t, Step{Kind: StepSummary}, step)

	require.Len(t, gw.submitted, 1)
	doc := gw.submitted[0].RequestData
	assert.Equal(t, "software-request", doc.ID)
	assert.Equal(t, model.TextValue("Adobe Inc"), doc.Sections[1].Fields[0].Value)
	assert.True(t, n.Store().Snapshot().IsCompleted)

	require.NotNil(t, gw.sessions[0])
	assert.Equal(t, n.Session().SessionID, gw.sessions[0].SessionID)
	assert.Equal(t, "1", gw.sessions[0].RequestID)
}

func TestNavigator_submit_failure_stays(t *testing.T) {
	n, gw := newNavigator(t)
	gw.submitErr = model.NewBackendUnavailableError()

	_, err := n.Choose("hardware")
	require.NoError(t, err)

	step, err := n.Next(context.Background(), map[string]any{"itemName": "Dell"})
	require.Error(t, err)
	assert.Equal(t, Step{Kind: StepSection, Index: 0}, step)
	assert.Equal(t, []string{store.MsgNetworkError}, n.Store().Snapshot().Errors)
}

func TestNavigator_Previous(t *testing.T) {
	n, _ := newNavigator(t)
	_, _ = n.Choose("software")
	_, _ = n.Next(context.Background(), map[string]any{"itemName": "a", "quantity": 1})

	step, err := n.Previous(map[string]any{"vendorName": "draft"})
	require.NoError(t, err)
	assert.Equal(t, Step{Kind: StepSection, Index: 0}, step)

	doc := n.Store().Document()
	assert.Equal(t, model.TextValue("draft"), doc.Sections[1].Fields[0].Value, "previous keeps unvalidated edits")

	step, err = n.Previous(nil)
	require.NoError(t, err)
	assert.Equal(t, Step{Kind: StepSelect}, step)
}

func TestNavigator_wrong_step(t *testing.T) {
	n, _ := newNavigator(t)

	_, err := n.Next(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrWrongStep))
	_, err = n.Previous(nil)
	assert.True(t, errors.Is(err, ErrWrongStep))

	_, _ = n.Choose("software")
	_, err = n.Choose("hardware")
	assert.True(t, errors.Is(err, ErrWrongStep))
}

func TestNavigator_Choose_empty_category(t *testing.T) {
	n, _ := newNavigator(t)
	step, err := n.Choose("")
	require.NoError(t, err)
	assert.Equal(t, Step{Kind: StepSelect}, step)
}

func TestNavigator_StartOver(t *testing.T) {
	n, gw := newNavigator(t)
	_, _ = n.Choose("software")

	assert.Equal(t, Step{Kind: StepSelect}, n.StartOver())
	assert.False(t, n.Store().SchemasLoaded())
	assert.Nil(t, n.Store().Document())

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, 2, gw.schemaCalls, "catalog is reloaded after a full reset")

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, 2, gw.schemaCalls, "a loaded catalog is not fetched again")
}

func TestStep_String(t *testing.T) {
	assert.Equal(t, "section[2]", Step{Kind: StepSection, Index: 2}.String())
	assert.Equal(t, "summary", Step{Kind: StepSummary}.String())
}
