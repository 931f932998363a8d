package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"fuseid/internal/platform/middleware"
	"fuseid/internal/resolver"
	"fuseid/internal/review"
	id "fuseid/pkg/domain"
	dErrors "fuseid/pkg/domain-errors"
	"fuseid/pkg/platform/httputil"
	"fuseid/pkg/platform/middleware/device"
)

// Service defines the interface for resolution operations.
type Service interface {
	RunPass(ctx context.Context) (resolver.PassSummary, error)
	ListReviews(ctx context.Context) ([]review.Review, error)
	ApplyDecision(ctx context.Context, req resolver.ApplyDecisionRequest) (resolver.DecisionResult, error)
	IssueReviewToken(reviewID id.ReviewID, reviewer id.ReviewerID) (string, error)
}

// Handler serves the resolution endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// New creates a resolution Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register registers the resolution routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.Recovery(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(h.logger))
	router.Use(middleware.Timeout(5 * time.Minute))
	router.Use(middleware.ContentTypeJSON)
	router.Use(device.Middleware)

	router.Post("/resolution/passes", h.handleRunPass)
	router.Get("/resolution/reviews", h.handleListReviews)
	router.Post("/resolution/reviews/{reviewID}/tokens", h.handleIssueToken)
	router.Post("/resolution/decisions", h.handleApplyDecision)

	r.Mount("/", router)
}

// handleRunPass runs a full resolution pass and returns its summary.
func (h *Handler) handleRunPass(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	summary, err := h.service.RunPass(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "resolution pass failed",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "resolution pass failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reviews, err := h.service.ListReviews(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "listing reviews failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "listing reviews failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

type issueTokenRequest struct {
	ReviewerID string `json:"reviewer_id"`
}

type issueTokenResponse struct {
	Token string `json:"token"`
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	reviewID, err := id.ParseReviewID(chi.URLParam(r, "reviewID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid review id"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[issueTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.ReviewerID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "reviewer_id is required"))
		return
	}

	token, err := h.service.IssueReviewToken(reviewID, id.ReviewerID(req.ReviewerID))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "issuing review token failed",
			"request_id", requestID,
			"review_id", reviewID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "issuing review token failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, issueTokenResponse{Token: token})
}

func (h *Handler) handleApplyDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[resolver.ApplyDecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	req.Device = device.GetDescription(ctx)

	result, err := h.service.ApplyDecision(ctx, req)
	if err != nil {
		switch {
		case dErrors.HasCode(err, dErrors.CodeUnauthorized),
			dErrors.HasCode(err, dErrors.CodeNotFound),
			dErrors.HasCode(err, dErrors.CodeValidation):
			h.logger.WarnContext(ctx, "decision rejected",
				"request_id", requestID,
				"error", err.Error(),
			)
			httputil.WriteError(w, err)
		default:
			h.logger.ErrorContext(ctx, "applying decision failed",
				"request_id", requestID,
				"error", err.Error(),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "applying decision failed"))
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
