package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/store"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) AdjudicateClaim(ctx context.Context, claim model.Claim) (model.ClaimResult, error) {
	args := m.Called(ctx, claim)
	return args.Get(0).(model.ClaimResult), args.Error(1)
}

func (m *mockEngine) GetAccumulator(ctx context.Context, memberID, benefitCode string, period model.PeriodKey) (model.AccumulatorRecord, error) {
	args := m.Called(ctx, memberID, benefitCode, period)
	return args.Get(0).(model.AccumulatorRecord), args.Error(1)
}

func (m *mockEngine) GetResult(ctx context.Context, claimLineID string) (*model.AdjudicationResult, error) {
	args := m.Called(ctx, claimLineID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AdjudicationResult), args.Error(1)
}

func (m *mockEngine) Reverse(ctx context.Context, claimLineID, reason string) (*accumulator.Entry, error) {
	args := m.Called(ctx, claimLineID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*accumulator.Entry), args.Error(1)
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBackend) ListResults(ctx context.Context, filter store.ResultFilter) ([]model.AdjudicationResult, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AdjudicationResult), args.Error(1)
}

func (m *mockBackend) CountDLQ(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func newTestServer(t *testing.T) (*httptest.Server, *mockEngine, *mockBackend) {
	t.Helper()
	eng := &mockEngine{}
	be := &mockBackend{}
	srv := httptest.NewServer(NewServer(eng, be, Options{}).Router())
	t.Cleanup(srv.Close)
	return srv, eng, be
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv, _, be := newTestServer(t)
	be.On("Ping", mock.Anything).Return(nil)
	be.On("CountDLQ", mock.Anything).Return(3, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 3, body["dlq_depth"])
}

func TestHealth_StoreDown(t *testing.T) {
	srv, _, be := newTestServer(t)
	be.On("Ping", mock.Anything).Return(eris.New("connection refused"))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdjudicateClaim(t *testing.T) {
	srv, eng, _ := newTestServer(t)

	want := model.ClaimResult{
		ClaimID:       "C1",
		MemberID:      "M1",
		Outcome:       model.OutcomeApproved,
		TotalCharged:  50000,
		TotalApproved: 50000,
		Lines: []model.AdjudicationResult{{
			ClaimLineID: "L1", ClaimID: "C1", Outcome: model.OutcomeApproved,
			ReasonCode: model.ReasonCovered, ChargedAmount: 50000, ApprovedAmount: 50000,
		}},
	}
	eng.On("AdjudicateClaim", mock.Anything, mock.MatchedBy(func(c model.Claim) bool {
		return c.ID == "C1" && len(c.Lines) == 1 && c.Lines[0].ChargedAmount == 50000
	})).Return(want, nil)

	body := `{"id":"C1","member_id":"M1","lines":[{"id":"L1","benefit_code":"CONS-GP","charged_amount":50000,"service_date":"2024-03-01"}]}`
	resp, err := http.Post(srv.URL+"/v1/claims/adjudicate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.ClaimResult
	decode(t, resp, &got)
	assert.Equal(t, model.OutcomeApproved, got.Outcome)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, model.Money(50000), got.Lines[0].ApprovedAmount)
	eng.AssertExpectations(t)
}

func TestAdjudicateClaim_BadBody(t *testing.T) {
	srv, eng, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/claims/adjudicate", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	eng.AssertNotCalled(t, "AdjudicateClaim", mock.Anything, mock.Anything)
}

func TestAdjudicateClaim_Malformed(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("AdjudicateClaim", mock.Anything, mock.Anything).
		Return(model.ClaimResult{}, eris.New("claim: id is required"))

	resp, err := http.Post(srv.URL+"/v1/claims/adjudicate", "application/json", strings.NewReader(`{"lines":[]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Contains(t, body["error"], "id is required")
}

func TestGetAccumulator(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("GetAccumulator", mock.Anything, "M1", "CONS-GP", model.PeriodKey("year:2024")).
		Return(model.AccumulatorRecord{AmountUsed: 300000, Version: 2}, nil)

	resp, err := http.Get(srv.URL + "/v1/accumulators/M1/CONS-GP/year:2024")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rec model.AccumulatorRecord
	decode(t, resp, &rec)
	assert.Equal(t, model.Money(300000), rec.AmountUsed)
	assert.Equal(t, int64(2), rec.Version)
}

func TestGetResult(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("GetResult", mock.Anything, "L1").Return(&model.AdjudicationResult{
		ClaimLineID: "L1", Outcome: model.OutcomeRejected, ReasonCode: model.ReasonNotCovered,
	}, nil)
	eng.On("GetResult", mock.Anything, "L2").Return(nil, nil)

	resp, err := http.Get(srv.URL + "/v1/claim-lines/L1/result")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var r model.AdjudicationResult
	decode(t, resp, &r)
	assert.Equal(t, model.ReasonNotCovered, r.ReasonCode)

	resp, err = http.Get(srv.URL + "/v1/claim-lines/L2/result")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReverse(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	eng.On("Reverse", mock.Anything, "L1", "duplicate billing").Return(&accumulator.Entry{
		ClaimLineID: "L1", Kind: accumulator.EntryReversal, Delta: model.UsageDelta{Amount: -50000},
	}, nil)

	resp, err := http.Post(srv.URL+"/v1/claim-lines/L1/reversal", "application/json",
		strings.NewReader(`{"reason":"duplicate billing"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var e accumulator.Entry
	decode(t, resp, &e)
	assert.Equal(t, accumulator.EntryReversal, e.Kind)
	assert.Equal(t, model.Money(-50000), e.Delta.Amount)
}

func TestReverse_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"nothing to reverse", eris.Wrap(accumulator.ErrNothingToReverse, "line L9"), http.StatusNotFound, ""},
		{"lock timeout", model.NewFault(model.ReasonLockTimeout, "busy"), http.StatusConflict, "LOCK_TIMEOUT"},
		{"negative balance", model.NewFault(model.ReasonNegativeBalance, "bad"), http.StatusInternalServerError, "NEGATIVE_ACCUMULATOR_BALANCE"},
		{"store down", eris.New("connection reset"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, eng, _ := newTestServer(t)
			eng.On("Reverse", mock.Anything, "L9", "").Return(nil, tt.err)

			resp, err := http.Post(srv.URL+"/v1/claim-lines/L9/reversal", "application/json", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body map[string]string
			decode(t, resp, &body)
			assert.Equal(t, tt.reason, body["reason_code"])
		})
	}
}

func TestListResults(t *testing.T) {
	srv, _, be := newTestServer(t)
	be.On("ListResults", mock.Anything, store.ResultFilter{MemberID: "M1", Outcome: model.OutcomeManualReview, Limit: 5}).
		Return([]model.AdjudicationResult{{ClaimLineID: "L1"}, {ClaimLineID: "L2"}}, nil)

	resp, err := http.Get(srv.URL + "/v1/results?member_id=M1&outcome=manual_review&limit=5")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []model.AdjudicationResult `json:"results"`
		Count   int                        `json:"count"`
	}
	decode(t, resp, &body)
	assert.Equal(t, 2, body.Count)
	assert.Len(t, body.Results, 2)
}

func TestListResults_BadLimit(t *testing.T) {
	srv, _, be := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/results?limit=abc")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	be.AssertNotCalled(t, "ListResults", mock.Anything, mock.Anything)
}

func TestCORSPreflight(t *testing.T) {
	eng := &mockEngine{}
	be := &mockBackend{}
	h := NewServer(eng, be, Options{AllowedOrigins: []string{"https://portal.example.com"}}).Router()

	req := httptest.NewRequest(http.MethodOptions, "/v1/claims/adjudicate", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://portal.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
