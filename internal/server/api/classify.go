// Package api provides the HTTP API handlers for ProdukScan.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ayusman/produkscan/internal/frame"
	"github.com/ayusman/produkscan/internal/locate"
	"github.com/ayusman/produkscan/internal/logger"
	"github.com/ayusman/produkscan/internal/pipeline"
	"github.com/ayusman/produkscan/internal/rank"
)

// MaxUploadSize bounds an uploaded image.
const MaxUploadSize = 16 << 20

// Classifier runs one image through the pipeline on behalf of a front-end.
type Classifier interface {
	Classify(ctx context.Context, src pipeline.Source, img frame.Image, mode rank.Mode) (*pipeline.Outcome, error)
}

// ClassifyResponse is the JSON form of a pipeline outcome.
type ClassifyResponse struct {
	ID        string         `json:"id"`
	Mode      rank.Mode      `json:"mode"`
	Status    string         `json:"status"`
	Localized bool           `json:"localized"`
	Region    int            `json:"region"`
	Box       *locate.Box    `json:"box,omitempty"`
	Products  []rank.Product `json:"products"`
	Text      string         `json:"text"`
	Stage     string         `json:"stage,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClassifyResponse converts out to its JSON form.
func NewClassifyResponse(out *pipeline.Outcome) ClassifyResponse {
	resp := ClassifyResponse{
		ID:        out.ID,
		Mode:      out.Mode,
		Status:    string(out.Status()),
		Localized: out.Localized,
		Region:    out.Region,
		Products:  out.Result.Products,
		Text:      out.Text(),
		Stage:     string(out.Stage()),
	}
	if resp.Products == nil {
		resp.Products = []rank.Product{}
	}
	if out.Localized {
		box := out.Box
		resp.Box = &box
	}
	switch out.Status() {
	case pipeline.StatusInvalid, pipeline.StatusFailed:
		resp.Error = out.Err.Error()
	}
	return resp
}

// StatusCode maps an outcome to an HTTP status. A run without a product is
// still a successful request.
func StatusCode(out *pipeline.Outcome) int {
	switch out.Status() {
	case pipeline.StatusInvalid:
		return http.StatusBadRequest
	case pipeline.StatusFailed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// ClassifyHandler handles POST /api/classify.
type ClassifyHandler struct {
	classifier Classifier
}

// NewClassifyHandler creates a ClassifyHandler running images through c.
func NewClassifyHandler(c Classifier) *ClassifyHandler {
	return &ClassifyHandler{classifier: c}
}

// Classify reads the multipart "file" field and classifies it in the mode
// given by the "mode" query parameter, list by default.
func (h *ClassifyHandler) Classify(c *gin.Context) {
	mode, err := rank.ParseMode(c.DefaultQuery("mode", string(rank.ModeList)))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "missing image file: " + err.Error()})
		return
	}
	if header.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "image too large"})
		return
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "read upload: " + err.Error()})
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, MaxUploadSize))
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "read upload: " + err.Error()})
		return
	}

	img, err := frame.Decode(data)
	if err != nil {
		// The empty image still runs so the rejected upload is recorded.
		logger.Log().Warn("unusable upload", zap.String("filename", header.Filename), zap.Error(err))
	}
	defer img.Close()

	out, _ := h.classifier.Classify(c.Request.Context(), pipeline.SourceHTTP, img, mode)
	defer out.Close()

	c.JSON(StatusCode(out), NewClassifyResponse(out))
}
