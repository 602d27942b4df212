package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contramind/internal/attestor"
	attestorstore "contramind/internal/attestor/store"
	"contramind/internal/decision"
	ledgerstore "contramind/internal/ledger/store"
	paramsmodels "contramind/internal/params/models"
	paramsservice "contramind/internal/params/service"
	paramsstore "contramind/internal/params/store"
	"contramind/internal/platform/lock"
	"contramind/pkg/testutil"
)

const passBody = `{"amount":1500,"country":"us","ts":"2025-09-16T10:00:00Z","recent":0}`

type fixture struct {
	router   http.Handler
	ledger   *ledgerstore.InMemoryStore
	params   *paramsservice.Service
	attestor *attestor.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	params := paramsservice.New(paramsstore.NewInMemory())
	require.NoError(t, params.Seed(ctx, paramsstore.Contents{
		Thresholds: map[string]decimal.Decimal{paramsmodels.ThresholdAmountMax: decimal.NewFromInt(2100)},
		Allowlist:  []string{"US", "CA"},
	}))
	ledger := ledgerstore.NewInMemory()
	att := attestor.New("decide-handler-seed", attestorstore.NewInMemory())
	require.NoError(t, att.Bootstrap(ctx, "k1", nil))

	svc := decision.New(params, ledger, att, lock.NewMemoryLocker(), decision.WithLogger(logger))
	h := New(svc, decision.NewReplayer(ledger, params, logger, nil), logger)
	r := chi.NewRouter()
	h.Register(r)
	h.RegisterAdmin(r)
	return fixture{router: r, ledger: ledger, params: params, attestor: att}
}

func decide(t *testing.T, router http.Handler, key, body string) (int, http.Header, string) {
	t.Helper()
	req := testutil.NewRequestWithBody(t, http.MethodPost, "/decide", body)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	rr := testutil.DoRequest(router, req)
	return rr.Code, rr.Header(), rr.Body.String()
}

func TestDecideRepeatsAreByteIdentical(t *testing.T) {
	f := newFixture(t)

	status, header, first := decide(t, f.router, "order-1", passBody)
	require.Equal(t, http.StatusOK, status, first)
	assert.Equal(t, "false", header.Get(HeaderReplayed))
	assert.Equal(t, "application/json", header.Get("Content-Type"))

	status, header, second := decide(t, f.router, "order-1", passBody)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "true", header.Get(HeaderReplayed))
	assert.Equal(t, first, second)

	// A different body under the same key still gets the stored decision.
	status, _, third := decide(t, f.router, "order-1", `{"amount":99999,"country":"FR","ts":"2025-09-20T10:00:00Z","recent":9}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first, third)
}

func TestDecideResponseCarriesVerifiableCertificate(t *testing.T) {
	f := newFixture(t)
	req := testutil.NewRequestWithBody(t, http.MethodPost, "/decide", passBody)
	req.Header.Set(HeaderIdempotencyKey, "order-2")
	rr := testutil.DoRequest(f.router, req)
	testutil.AssertStatusOK(t, rr)

	resp := testutil.UnmarshalResponse[DecideResponse](t, rr)
	assert.Equal(t, "PASS", resp.Decision)
	assert.Equal(t, []string{"privacy_ok"}, resp.Obligations)
	assert.False(t, resp.NeedsOneBit)
	assert.Equal(t, "k1", resp.KID)
	assert.EqualValues(t, 1, resp.LedgerID)

	claims, err := f.attestor.Verify(context.Background(), resp.Certificate)
	require.NoError(t, err)
	assert.Equal(t, resp.ProofID, claims.ProofID)
	assert.Equal(t, "US", claims.Inputs.Country)
	assert.Equal(t, "1500", claims.Inputs.Amount)
}

func TestDecideWithoutKeyUsesRequestDigest(t *testing.T) {
	f := newFixture(t)

	_, header, first := decide(t, f.router, "", passBody)
	assert.Equal(t, "false", header.Get(HeaderReplayed))
	// Same request with reordered keys and a numeric string amount.
	_, header, second := decide(t, f.router, "", `{"recent":0,"ts":"2025-09-16T10:00:00Z","country":"US","amount":"1500"}`)
	assert.Equal(t, "true", header.Get(HeaderReplayed))
	assert.Equal(t, first, second)

	maxID, err := f.ledger.MaxID(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, maxID)
}

func TestDecideValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		body string
	}{
		{"missing amount", `{"country":"US","ts":"2025-09-16T10:00:00Z","recent":0}`},
		{"negative amount", `{"amount":-1,"country":"US","ts":"2025-09-16T10:00:00Z","recent":0}`},
		{"bad country", `{"amount":1,"country":"USA","ts":"2025-09-16T10:00:00Z","recent":0}`},
		{"missing ts", `{"amount":1,"country":"US","recent":0}`},
		{"negative recent", `{"amount":1,"country":"US","ts":"2025-09-16T10:00:00Z","recent":-2}`},
		{"long context id", `{"amount":1,"country":"US","ts":"2025-09-16T10:00:00Z","context_id":"` + strings.Repeat("x", 129) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := testutil.DoRequest(f.router, testutil.NewRequestWithBody(t, http.MethodPost, "/decide", tc.body))
			testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewRequestWithBody(t, http.MethodPost, "/decide", `{"amount":`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("oversized idempotency key", func(t *testing.T) {
		status, _, _ := decide(t, f.router, strings.Repeat("k", 256), passBody)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	maxID, err := f.ledger.MaxID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, maxID, "rejected requests never reach the ledger")
}

func TestDecideReadsRecentDisputes(t *testing.T) {
	f := newFixture(t)

	req := testutil.NewRequestWithBody(t, http.MethodPost, "/decide",
		`{"amount":3000,"country":"FR","ts":"2025-09-16T10:00:00Z","recent_disputes":3}`)
	req.Header.Set(HeaderIdempotencyKey, "disputed")
	rr := testutil.DoRequest(f.router, req)
	testutil.AssertStatusOK(t, rr)

	resp := testutil.UnmarshalResponse[DecideResponse](t, rr)
	assert.Equal(t, "NEED_ONE_BIT", resp.Decision)
	assert.True(t, resp.NeedsOneBit)
	claims, err := f.attestor.Verify(context.Background(), resp.Certificate)
	require.NoError(t, err)
	assert.Equal(t, 3, claims.Inputs.Recent)

	t.Run("alias that agrees", func(t *testing.T) {
		status, _, body := decide(t, f.router, "both-agree",
			`{"amount":3000,"country":"FR","ts":"2025-09-16T10:00:00Z","recent_disputes":3,"recent":3}`)
		require.Equal(t, http.StatusOK, status, body)
		assert.Contains(t, body, `"decision":"NEED_ONE_BIT"`)
	})

	t.Run("alias that disagrees", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewRequestWithBody(t, http.MethodPost, "/decide",
			`{"amount":3000,"country":"FR","ts":"2025-09-16T10:00:00Z","recent_disputes":3,"recent":0}`))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})

	t.Run("misspelled field", func(t *testing.T) {
		rr := testutil.DoRequest(f.router, testutil.NewRequestWithBody(t, http.MethodPost, "/decide",
			`{"amount":3000,"country":"FR","ts":"2025-09-16T10:00:00Z","recent_dispute":3}`))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})
}

func TestDecideMissingThresholdIsServerError(t *testing.T) {
	f := newFixture(t)
	_, err := f.params.DeleteThreshold(context.Background(), paramsmodels.ThresholdAmountMax)
	require.NoError(t, err)

	rr := testutil.DoRequest(f.router, testutil.NewRequestWithBody(t, http.MethodPost, "/decide", passBody))
	testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "configuration_error")
}

func TestReplayEndpoint(t *testing.T) {
	f := newFixture(t)
	decide(t, f.router, "a", passBody)
	decide(t, f.router, "b", `{"amount":2000,"country":"US","ts":"2025-09-16T10:00:00Z","recent":0}`)
	_, err := f.params.SetThreshold(context.Background(), paramsmodels.ThresholdAmountMax, decimal.NewFromInt(1800))
	require.NoError(t, err)

	rr := testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/admin/replay?from=1"))
	testutil.AssertStatusOK(t, rr)
	report := testutil.UnmarshalResponse[decision.ReplayReport](t, rr)
	assert.Equal(t, 2, report.Checked)
	require.Len(t, report.Drift, 1)
	assert.Equal(t, "b", report.Drift[0].IdempotencyKey)

	rr = testutil.DoRequest(f.router, testutil.NewRequest(t, http.MethodGet, "/admin/replay?from=x"))
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
}
