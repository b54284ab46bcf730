package controller

import (
	"context"
	"net/http"
	"time"

	"judgeflow/internal/judge/model"
	"judgeflow/pkg/utils/logger"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultStreamPollInterval = 500 * time.Millisecond
	defaultStreamMaxDuration  = 10 * time.Minute
	streamWriteTimeout        = 5 * time.Second
)

// StreamConfig controls the status websocket.
type StreamConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxDuration  time.Duration `yaml:"maxDuration"`
}

func (c *StreamConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultStreamPollInterval
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = defaultStreamMaxDuration
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Stream pushes every status change of a submission over a websocket and
// closes after the final status.
func (h *JudgeController) Stream(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	ctx := c.Request.Context()
	// Resolve before upgrading so unknown ids get a normal error response.
	status, err := h.svc.GetStatus(ctx, submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !canViewStatus(c, status) {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, h.stream.MaxDuration)
	defer cancel()
	go func() {
		// Reads only detect the peer going away.
		defer cancel()
		_ = conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.stream.PollInterval)
	defer ticker.Stop()
	var last model.JudgeStatus
	sent := false
	for {
		if !sent || progressed(last, status) {
			if !sendStatus(conn, status) {
				return
			}
			last, sent = status, true
		}
		if status.Final() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "final"),
				time.Now().Add(streamWriteTimeout))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next, err := h.svc.GetStatus(ctx, submissionID)
		if err != nil {
			logger.Warn(ctx, "stream status read failed", zap.Error(err))
			continue
		}
		status = next
	}
}

func progressed(prev, next model.JudgeStatus) bool {
	return prev.Stage != next.Stage ||
		prev.Verdict != next.Verdict ||
		prev.DoneTestCases != next.DoneTestCases ||
		prev.TestCasesPassed != next.TestCasesPassed ||
		prev.TotalTestCases != next.TotalTestCases
}

func sendStatus(conn *websocket.Conn, status model.JudgeStatus) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(status) == nil
}
