package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/produkscan/internal/classify"
	"github.com/ayusman/produkscan/internal/detector"
	"github.com/ayusman/produkscan/internal/frame"
	"github.com/ayusman/produkscan/internal/metrics"
	"github.com/ayusman/produkscan/internal/pipeline"
	"github.com/ayusman/produkscan/internal/rank"
	"github.com/ayusman/produkscan/internal/server/api"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// pipelineClassifier adapts a Pipeline to api.Classifier.
type pipelineClassifier struct {
	p *pipeline.Pipeline
}

func (pc pipelineClassifier) Classify(ctx context.Context, src pipeline.Source, img frame.Image, mode rank.Mode) (*pipeline.Outcome, error) {
	return pc.p.Run(pipeline.WithSource(ctx, src), img, mode)
}

func newClassifier(cls classify.Classifier) api.Classifier {
	return pipelineClassifier{p: pipeline.New(detector.NoHands{}, cls, pipeline.DefaultConfig())}
}

func togo() classify.Confidences {
	return classify.Vector(map[string]float32{"Togo": 0.7, "Top": 0.2, "Milkita": 0.05})
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, target string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "shelf.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json; charset=utf-8" {
			t.Errorf("expected JSON content type, got %s", contentType)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}

		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_Labels(t *testing.T) {
	s := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/labels", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var response struct {
		Labels []string `json:"labels"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&response))
	assert.Equal(t, classify.Labels(), response.Labels)
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/nonexistent", "/api/classify", "/api/detections", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	tmpDir := t.TempDir()

	testContent := "<html><body>ProdukScan</body></html>"
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cssContent := "body { color: red; }"
	if err := os.WriteFile(filepath.Join(tmpDir, "style.css"), []byte(cssContent), 0644); err != nil {
		t.Fatalf("failed to create test CSS file: %v", err)
	}

	s := New(Config{StaticDir: tmpDir})

	t.Run("serves index.html at root path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		if rec.Body.String() != testContent {
			t.Errorf("expected body %q, got %q", testContent, rec.Body.String())
		}
	})

	t.Run("serves static files from configured directory", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		if rec.Body.String() != cssContent {
			t.Errorf("expected body %q, got %q", cssContent, rec.Body.String())
		}
	})

	t.Run("returns 404 for non-existent static files", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/nonexistent.html", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestServer_Classify(t *testing.T) {
	t.Run("list mode by default", func(t *testing.T) {
		s := New(Config{Classifier: newClassifier(classify.NewMockClassifier(togo()))})
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, uploadRequest(t, "/api/classify", pngBytes(t, 120, 80)))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp api.ClassifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		assert.NotEmpty(t, resp.ID)
		assert.Equal(t, rank.ModeList, resp.Mode)
		assert.Equal(t, "detected", resp.Status)
		assert.False(t, resp.Localized)
		assert.Equal(t, -1, resp.Region)
		assert.Nil(t, resp.Box)
		require.Len(t, resp.Products, 2)
		assert.Equal(t, "Togo", resp.Products[0].Label)
		assert.Equal(t, "Top", resp.Products[1].Label)
		assert.Equal(t, "Detected products:\nTogo (70.00%)\nTop (20.00%)\nCount: 2", resp.Text)
		assert.Empty(t, resp.Error)
	})

	t.Run("top1 mode", func(t *testing.T) {
		s := New(Config{Classifier: newClassifier(classify.NewMockClassifier(togo()))})
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, uploadRequest(t, "/api/classify?mode=TOP1", pngBytes(t, 60, 60)))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp api.ClassifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, rank.ModeTop1, resp.Mode)
		assert.Len(t, resp.Products, 1)
		assert.Equal(t, "Detected product:\nTogo (70.00%)", resp.Text)
	})

	t.Run("no product is still 200", func(t *testing.T) {
		s := New(Config{Classifier: newClassifier(classify.NewMockClassifier(make(classify.Confidences, classify.NumClasses)))})
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, uploadRequest(t, "/api/classify", pngBytes(t, 60, 60)))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp api.ClassifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "none", resp.Status)
		assert.NotNil(t, resp.Products)
		assert.Empty(t, resp.Products)
		assert.Equal(t, rank.NoDetectionText, resp.Text)
	})

	t.Run("undecodable upload is 400", func(t *testing.T) {
		cls := classify.NewMockClassifier(togo())
		s := New(Config{Classifier: newClassifier(cls)})
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, uploadRequest(t, "/api/classify", []byte("definitely not a png")))

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp api.ClassifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid", resp.Status)
		assert.Equal(t, rank.InvalidImageText, resp.Text)
		assert.NotEmpty(t, resp.Error)
		assert.Zero(t, cls.Calls())
	})

	t.Run("unknown mode is 400", func(t *testing.T) {
		s := New(Config{Classifier: newClassifier(classify.NewMockClassifier(togo()))})
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, uploadRequest(t, "/api/classify?mode=all", pngBytes(t, 10, 10)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid result mode")
	})

	t.Run("missing file is 400", func(t *testing.T) {
		s := New(Config{Classifier: newClassifier(classify.NewMockClassifier(togo()))})
		req := httptest.NewRequest(http.MethodPost, "/api/classify", nil)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("classifier failure is 502 with stage", func(t *testing.T) {
		cls := classify.NewMockClassifier(togo())
		cls.SetError(errors.New("model server down"))
		s := New(Config{Classifier: newClassifier(cls)})
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, uploadRequest(t, "/api/classify", pngBytes(t, 60, 60)))

		require.Equal(t, http.StatusBadGateway, rec.Code)
		var resp api.ClassifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "failed", resp.Status)
		assert.Equal(t, "classification", resp.Stage)
		assert.Contains(t, resp.Error, "model server down")
		assert.Equal(t, "Product detection failed during classification.", resp.Text)
	})
}

func TestServer_Localized(t *testing.T) {
	det := detector.NewMockDetector()
	det.QueueHands([]detector.Hand{detector.HandSpanning(0.2, 0.2, 0.4, 0.4)})
	p := pipeline.New(det, classify.NewMockClassifier(togo()), pipeline.DefaultConfig())
	s := New(Config{Classifier: pipelineClassifier{p: p}})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, uploadRequest(t, "/api/classify", pngBytes(t, 300, 200)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp api.ClassifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Localized)
	assert.Equal(t, 0, resp.Region)
	require.NotNil(t, resp.Box)
	assert.False(t, resp.Box.Empty())
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	s := New(Config{Metrics: m})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `produkscan_http_requests_total{method="GET",route="/api/health",status="200"} 1`)
}

func TestNew(t *testing.T) {
	t.Run("creates server with config", func(t *testing.T) {
		cfg := Config{StaticDir: "/some/path"}
		s := New(cfg)

		if s == nil {
			t.Fatal("expected non-nil server")
		}

		if s.config.StaticDir != cfg.StaticDir {
			t.Errorf("expected StaticDir %s, got %s", cfg.StaticDir, s.config.StaticDir)
		}
	})

	t.Run("server implements http.Handler", func(t *testing.T) {
		s := New(Config{})
		var _ http.Handler = s
	})
}
