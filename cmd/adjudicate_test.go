package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/benefit-engine/internal/model"
)

func claimFor(id, member string) model.Claim {
	return model.Claim{ID: id, MemberID: member}
}

func TestProcessClaims_Empty(t *testing.T) {
	results, err := processClaims(context.Background(), nil, 4, func(context.Context, model.Claim) (model.ClaimResult, error) {
		t.Fatal("adjudicate should not be called")
		return model.ClaimResult{}, nil
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessClaims_KeepsInputOrderAndMemberSequence(t *testing.T) {
	claims := []model.Claim{
		claimFor("C1", "M1"),
		claimFor("C2", "M2"),
		claimFor("C3", "M1"),
		claimFor("C4", "M2"),
		claimFor("C5", "M1"),
	}

	var mu sync.Mutex
	seen := map[string][]string{}
	results, err := processClaims(context.Background(), claims, 4, func(_ context.Context, c model.Claim) (model.ClaimResult, error) {
		mu.Lock()
		seen[c.MemberID] = append(seen[c.MemberID], c.ID)
		mu.Unlock()
		return model.ClaimResult{ClaimID: c.ID, MemberID: c.MemberID, Outcome: model.OutcomeApproved}, nil
	})
	require.NoError(t, err)

	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, claims[i].ID, r.ClaimID)
	}
	assert.Equal(t, []string{"C1", "C3", "C5"}, seen["M1"])
	assert.Equal(t, []string{"C2", "C4"}, seen["M2"])
}

func TestProcessClaims_SkipsMalformedClaims(t *testing.T) {
	claims := []model.Claim{claimFor("C1", "M1"), claimFor("", "M1"), claimFor("C3", "M2")}

	results, err := processClaims(context.Background(), claims, 2, func(_ context.Context, c model.Claim) (model.ClaimResult, error) {
		if c.ID == "" {
			return model.ClaimResult{}, eris.New("claim: id is required")
		}
		return model.ClaimResult{ClaimID: c.ID}, nil
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "C1", results[0].ClaimID)
	assert.Equal(t, "C3", results[1].ClaimID)
}

func TestProcessClaims_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := processClaims(ctx, []model.Claim{claimFor("C1", "M1")}, 1, func(ctx context.Context, c model.Claim) (model.ClaimResult, error) {
		return model.ClaimResult{ClaimID: c.ID}, nil
	})
	assert.Error(t, err)
}

func TestReadClaims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.json")
	data := `[{"id":"C1","member_id":"M1","lines":[{"id":"L1","claim_id":"C1","sequence":1,"benefit_code":"CONS-GP","charged_amount":50000,"service_date":"2024-03-01"}]}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	claims, err := readClaims(path)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Len(t, claims[0].Lines, 1)
	assert.Equal(t, model.Money(50000), claims[0].Lines[0].ChargedAmount)
	assert.Equal(t, model.MustDate("2024-03-01"), claims[0].Lines[0].ServiceDate)
}

func TestReadClaims_Errors(t *testing.T) {
	_, err := readClaims(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = readClaims(path)
	assert.Error(t, err)
}

func TestProcessClaims_WithEngine(t *testing.T) {
	ctx := context.Background()
	env, err := initEngine(ctx, testConfig(t), "adjudicate")
	require.NoError(t, err)
	defer env.Close()

	line := func(id, claimID, code string, amount model.Money) model.ClaimLine {
		return model.ClaimLine{
			ID: id, ClaimID: claimID, Sequence: 1, BenefitCode: code,
			ChargedAmount: amount, ServiceDate: model.MustDate("2024-03-01"),
		}
	}
	claims := []model.Claim{
		{ID: "C1", MemberID: "M1", Lines: []model.ClaimLine{line("L1", "C1", "CONS-GP", 600000)}},
		{ID: "C2", MemberID: "M1", Lines: []model.ClaimLine{line("L2", "C2", "CONS-GP", 600000)}},
		{ID: "C3", MemberID: "M2", Lines: []model.ClaimLine{line("L3", "C3", "COSMETIC", 100000)}},
	}

	results, err := processClaims(ctx, claims, 2, env.Engine.AdjudicateClaim)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, model.OutcomeApproved, results[0].Outcome)
	assert.Equal(t, model.Money(600000), results[0].TotalApproved)

	assert.Equal(t, model.OutcomePartiallyApproved, results[1].Outcome)
	assert.Equal(t, model.Money(400000), results[1].TotalApproved)
	assert.Equal(t, model.Money(200000), results[1].TotalMemberResponsibility)

	assert.Equal(t, model.OutcomeRejected, results[2].Outcome)
	assert.Equal(t, model.ReasonNotCovered, results[2].Lines[0].ReasonCode)

	rec, err := env.Engine.GetAccumulator(ctx, "M1", "CONS-GP", "year:2024")
	require.NoError(t, err)
	assert.Equal(t, model.Money(1000000), rec.AmountUsed)

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, results))
	var decoded []model.ClaimResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 3)
}
