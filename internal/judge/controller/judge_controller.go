package controller

import (
	"context"
	"errors"
	"strings"

	"judgeflow/internal/common/http/middleware"
	"judgeflow/internal/judge/executor"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/service"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// CallbackTokenHeader carries the shared secret on executor callbacks.
const CallbackTokenHeader = "X-Callback-Token"

// JudgeService is the part of the judge service the HTTP layer calls.
type JudgeService interface {
	GetStatus(ctx context.Context, submissionID string) (model.JudgeStatus, error)
	HandleDelegatedResult(ctx context.Context, submissionID string, res model.DelegatedResult) (bool, error)
	RunSample(ctx context.Context, req service.SampleRequest) (service.SampleResult, error)
}

// JudgeController handles judge status, callback and sample requests.
type JudgeController struct {
	svc       JudgeService
	callbacks *executor.CallbackRegistry
	stream    StreamConfig
}

// NewJudgeController creates a new controller. callbacks may be nil when
// no remote executor is configured.
func NewJudgeController(svc JudgeService, callbacks *executor.CallbackRegistry, stream StreamConfig) *JudgeController {
	stream.applyDefaults()
	return &JudgeController{svc: svc, callbacks: callbacks, stream: stream}
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.svc.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canViewStatus(c, status) {
		return
	}
	response.Success(c, status)
}

// canViewStatus lets the owner or an admin through and writes the error
// response otherwise.
func canViewStatus(c *gin.Context, status model.JudgeStatus) bool {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		response.Error(c, appErr.New(appErr.Unauthorized))
		return false
	}
	if identity.IsAdmin() || identity.UserID == status.UserID {
		return true
	}
	response.Error(c, appErr.ForbiddenError("submission belongs to another user"))
	return false
}

// ExecutorCallback accepts the result of one remote execution job.
func (h *JudgeController) ExecutorCallback(c *gin.Context) {
	if h.callbacks == nil {
		response.ErrorWithCode(c, appErr.ServiceUnavailable, "remote executor is not enabled")
		return
	}
	var cb model.ExecutionCallback
	if err := c.ShouldBindJSON(&cb); err != nil || cb.JobID == "" {
		response.BadRequest(c, "Invalid callback payload")
		return
	}
	err := h.callbacks.Resolve(c.GetHeader(CallbackTokenHeader), cb)
	switch {
	case err == nil:
		response.Success(c, gin.H{"job_id": cb.JobID})
	case errors.Is(err, executor.ErrInvalidCallbackToken):
		response.Error(c, appErr.New(appErr.CallbackTokenInvalid))
	case errors.Is(err, executor.ErrUnknownJob):
		response.Error(c, appErr.NotFoundError("execution job"))
	default:
		response.Error(c, err)
	}
}

// DelegatedResult commits a whole-submission result from an external judge.
func (h *JudgeController) DelegatedResult(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	var req model.DelegatedResult
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid result payload")
		return
	}
	if req.Token == "" {
		req.Token = strings.TrimSpace(c.GetHeader(CallbackTokenHeader))
	}
	applied, err := h.svc.HandleDelegatedResult(c.Request.Context(), submissionID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, DelegatedResultResponse{SubmissionID: submissionID, Applied: applied})
}

// RunSample runs the sample cases of a problem without recording anything.
func (h *JudgeController) RunSample(c *gin.Context) {
	var req RunSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	out, err := h.svc.RunSample(c.Request.Context(), service.SampleRequest{
		ProblemID: req.ProblemID,
		Language:  req.Language,
		Code:      req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// Health reports liveness.
func (h *JudgeController) Health(c *gin.Context) {
	pending := 0
	if h.callbacks != nil {
		pending = h.callbacks.Pending()
	}
	response.Success(c, gin.H{"status": "ok", "pending_callbacks": pending})
}

// RunSampleRequest defines the run-sample payload.
type RunSampleRequest struct {
	ProblemID int64  `json:"problem_id" binding:"required"`
	Language  string `json:"language" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

// DelegatedResultResponse reports whether a delegated result changed the submission.
type DelegatedResultResponse struct {
	SubmissionID string `json:"submission_id"`
	Applied      bool   `json:"applied"`
}
