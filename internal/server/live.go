package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/produkscan/internal/frame"
	"github.com/ayusman/produkscan/internal/logger"
	"github.com/ayusman/produkscan/internal/metrics"
	"github.com/ayusman/produkscan/internal/pipeline"
	"github.com/ayusman/produkscan/internal/rank"
	"github.com/ayusman/produkscan/internal/server/api"
)

const (
	liveReadLimit   = api.MaxUploadSize
	liveIdleTimeout = 60 * time.Second
	liveWriteWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// LiveHandler classifies frames sent over a websocket. Each binary message
// is a JPEG or PNG frame and is answered with one JSON text message before
// the next frame is read.
type LiveHandler struct {
	classifier api.Classifier
	metrics    *metrics.Metrics
}

// NewLiveHandler creates a LiveHandler running frames through c.
func NewLiveHandler(c api.Classifier, m *metrics.Metrics) *LiveHandler {
	return &LiveHandler{classifier: c, metrics: m}
}

type liveError struct {
	Error string `json:"error"`
}

// Serve handles websocket upgrade requests.
func (h *LiveHandler) Serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log().Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(liveReadLimit)

	if h.metrics != nil {
		h.metrics.LiveSessionStarted()
		defer h.metrics.LiveSessionEnded()
	}

	log := logger.Log().With(zap.String("remote", c.Request.RemoteAddr))
	log.Info("live session started")
	defer log.Info("live session ended")

	ctx := c.Request.Context()
	for {
		conn.SetReadDeadline(time.Now().Add(liveIdleTimeout))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("live session read failed", zap.Error(err))
			}
			return
		}

		var reply any
		if mt != websocket.BinaryMessage {
			reply = liveError{Error: "unsupported message type, send binary image frames"}
		} else {
			reply = h.classifyFrame(ctx, msg)
		}

		conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn("live session write failed", zap.Error(err))
			return
		}
	}
}

func (h *LiveHandler) classifyFrame(ctx context.Context, data []byte) api.ClassifyResponse {
	img, err := frame.Decode(data)
	if err != nil {
		logger.Log().Debug("unusable live frame", zap.Error(err))
	}
	defer img.Close()

	out, _ := h.classifier.Classify(ctx, pipeline.SourceLive, img, rank.ModeTop1)
	defer out.Close()
	return api.NewClassifyResponse(out)
}
