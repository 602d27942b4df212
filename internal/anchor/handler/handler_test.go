package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"contramind/internal/anchor/handler/mocks"
	"contramind/internal/anchor/models"
	dErrors "contramind/pkg/domain-errors"
	"contramind/pkg/testutil"
)

func newRouter(t *testing.T) (http.Handler, *mocks.MockService) {
	t.Helper()
	svc := mocks.NewMockService(gomock.NewController(t))
	h := New(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)
	h.RegisterAdmin(r)
	return r, svc
}

var sample = &models.Anchor{
	ID:         4,
	CreatedAt:  time.Date(2025, 9, 16, 12, 0, 0, 0, time.UTC),
	FromID:     31,
	ToID:       40,
	MerkleRoot: "abc",
	LeafCount:  10,
	KID:        "k1",
	Signature:  "c2ln",
}

func TestHandleLatest(t *testing.T) {
	router, svc := newRouter(t)

	svc.EXPECT().Latest(gomock.Any()).Return(sample, nil)
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/anchors/latest"))
	testutil.AssertStatusOK(t, rr)
	resp := testutil.UnmarshalResponse[AnchorResponse](t, rr)
	assert.Equal(t, *sample, resp.Anchor())

	svc.EXPECT().Latest(gomock.Any()).Return(nil, dErrors.New(dErrors.CodeNotFound, "anchor not found"))
	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/anchors/latest"))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
}

func TestHandleGet(t *testing.T) {
	router, svc := newRouter(t)

	svc.EXPECT().Get(gomock.Any(), int64(4)).Return(sample, nil)
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/anchors/4"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "merkle_root", "abc")

	for _, bad := range []string{"abc", "0", "-3"} {
		rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/anchors/"+bad))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	}
}

func TestHandleRun(t *testing.T) {
	router, svc := newRouter(t)

	svc.EXPECT().RunOnce(gomock.Any()).Return(sample, nil)
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/admin/anchors/run"))
	testutil.AssertStatusOK(t, rr)
	resp := testutil.UnmarshalResponse[RunResponse](t, rr)
	assert.True(t, resp.Anchored)
	require.NotNil(t, resp.Anchor)
	assert.EqualValues(t, 40, resp.Anchor.ToID)

	svc.EXPECT().RunOnce(gomock.Any()).Return(nil, nil)
	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/admin/anchors/run"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "anchored", false)

	svc.EXPECT().RunOnce(gomock.Any()).Return(nil, dErrors.Wrap(errors.New("boom"), dErrors.CodeSigningUnavailable, "no active signing key"))
	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/admin/anchors/run"))
	testutil.AssertStatusAndError(t, rr, http.StatusServiceUnavailable, "signing_unavailable")
	testutil.AssertRetryable(t, rr)
}
