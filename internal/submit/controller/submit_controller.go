package controller

import (
	"context"
	"strconv"
	"strings"

	"judgeflow/internal/common/http/middleware"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/stats"
	"judgeflow/internal/submit/service"
	appErr "judgeflow/pkg/errors"
	pkgrepo "judgeflow/pkg/repository"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmitService is the part of the submit service the HTTP layer calls.
type SubmitService interface {
	Submit(ctx context.Context, input service.SubmitInput) (service.SubmitResult, error)
	Get(ctx context.Context, submissionID string, viewerID int64, viewerIsAdmin bool) (*model.Submission, error)
	ListByUser(ctx context.Context, userID, viewerID int64, viewerIsAdmin bool, opts pkgrepo.ListOptions) ([]model.Submission, int64, pkgrepo.ListOptions, error)
	GetUserStats(ctx context.Context, userID int64) (*stats.UserStats, error)
}

// SubmitController handles submission HTTP endpoints. Every route expects
// middleware.JWTAuth in front of it.
type SubmitController struct {
	submitService SubmitService
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService SubmitService) *SubmitController {
	return &SubmitController{submitService: submitService}
}

// Create handles submission requests.
func (h *SubmitController) Create(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, appErr.New(appErr.Unauthorized))
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	res, err := h.submitService.Submit(c.Request.Context(), service.SubmitInput{
		ProblemID:      req.ProblemID,
		ProblemSlug:    req.ProblemSlug,
		UserID:         identity.UserID,
		Language:       req.Language,
		SourceCode:     req.Code,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, res)
}

// Get returns one submission.
func (h *SubmitController) Get(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, appErr.New(appErr.Unauthorized))
		return
	}
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	sub, err := h.submitService.Get(c.Request.Context(), submissionID, identity.UserID, identity.IsAdmin())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sub)
}

// ListByUser pages one user's submissions.
func (h *SubmitController) ListByUser(c *gin.Context) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, appErr.New(appErr.Unauthorized))
		return
	}
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || userID <= 0 {
		response.BadRequest(c, "Invalid user id")
		return
	}
	opts := pkgrepo.ListOptions{
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "limit"),
		Filters:  map[string]string{},
	}
	if v := strings.TrimSpace(c.Query("problem_id")); v != "" {
		opts.Filters["problem_id"] = v
	}
	if v := strings.TrimSpace(c.Query("verdict")); v != "" {
		opts.Filters["verdict"] = v
	}
	items, total, page, err := h.submitService.ListByUser(c.Request.Context(), userID, identity.UserID, identity.IsAdmin(), opts)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithPagination(c, items, total, page.Page, page.PageSize)
}

// GetUserStats returns a user's statistics.
func (h *SubmitController) GetUserStats(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil || userID <= 0 {
		response.BadRequest(c, "Invalid user id")
		return
	}
	st, err := h.submitService.GetUserStats(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, st)
}

func queryInt(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}

// SubmitRequest defines submission payload. Either problem_id or
// problem_slug identifies the problem.
type SubmitRequest struct {
	ProblemID   int64  `json:"problem_id"`
	ProblemSlug string `json:"problem_slug"`
	Language    string `json:"language" binding:"required"`
	Code        string `json:"code" binding:"required"`
}
