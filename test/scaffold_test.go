package test

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/mock/gomock"

	"fuseid/internal/resolver/handler"
	"fuseid/internal/resolver/handler/mocks"
	"fuseid/internal/review"
	"fuseid/pkg/testutil"
)

// TestRouterScaffold checks that the resolution routes are mounted and that
// unknown paths fall through to 404. Endpoint behavior is covered by the
// handler package tests; this only guards the wiring.
func TestRouterScaffold(t *testing.T) {
	testutil.Given(t, "the resolution router", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		service := mocks.NewMockService(ctrl)
		service.EXPECT().ListReviews(gomock.Any()).Return([]review.Review{}, nil).AnyTimes()

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		router := chi.NewRouter()
		handler.New(service, logger).Register(router)

		testutil.When(t, "calling GET /resolution/reviews", func(t *testing.T) {
			req := testutil.NewRequest(t, http.MethodGet, "/resolution/reviews")
			rec := testutil.DoRequest(router, req)

			testutil.Then(t, "it should respond with OK", func(t *testing.T) {
				testutil.AssertStatusOK(t, rec)
			})
		})

		testutil.When(t, "calling GET /resolution/nope", func(t *testing.T) {
			req := testutil.NewRequest(t, http.MethodGet, "/resolution/nope")
			rec := testutil.DoRequest(router, req)

			testutil.Then(t, "it should respond with not found", func(t *testing.T) {
				testutil.AssertStatus(t, rec, http.StatusNotFound)
			})
		})
	})
}
