package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	appErr "judgeflow/pkg/errors"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		c.Set("trace_id", "trace-1")
		handler(c)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, resp
}

func TestErrorMapsCodeToStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"not found", appErr.New(appErr.SubmissionNotFound), http.StatusNotFound, appErr.SubmissionNotFound.Message()},
		{"custom message kept for client errors", appErr.New(appErr.InvalidParams).WithMessage("bad language"), http.StatusBadRequest, "bad language"},
		{"internal text hidden", appErr.Wrap(errors.New("dial tcp: refused"), appErr.DatabaseError), http.StatusInternalServerError, appErr.DatabaseError.Message()},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, appErr.InternalServerError.Message()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := serve(t, func(c *gin.Context) { Error(c, tt.err) })
			if rec.Code != tt.wantStatus || resp.Message != tt.wantMsg {
				t.Fatalf("got %d %q, want %d %q", rec.Code, resp.Message, tt.wantStatus, tt.wantMsg)
			}
			if resp.TraceID != "trace-1" {
				t.Fatalf("missing trace id: %+v", resp)
			}
		})
	}
}

func TestSuccessWithPagination(t *testing.T) {
	rec, resp := serve(t, func(c *gin.Context) {
		SuccessWithPagination(c, []int{1, 2}, 41, 2, 20)
	})
	if rec.Code != http.StatusOK || resp.Code != appErr.Success {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
	data, _ := resp.Data.(map[string]interface{})
	if data["total_pages"] != float64(3) || data["page"] != float64(2) {
		t.Fatalf("unexpected pagination %v", data)
	}
}
