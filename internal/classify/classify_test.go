package classify

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ayusman/produkscan/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func solid(w, h int, b, g, r uint8) frame.Image {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(b), float64(g), float64(r), 0), h, w, gocv.MatTypeCV8UC3)
	return frame.New(mat, frame.BGR)
}

func validTensor() Tensor {
	return Tensor{Shape: InputShape, Data: make([]float32, InputSize*InputSize*3)}
}

func TestLabels(t *testing.T) {
	got := Labels()
	assert.Len(t, got, 10)
	assert.Equal(t, 10, NumClasses)
	assert.Equal(t, "ButterCookies", got[0])
	assert.Equal(t, "Top", got[9])
	assert.Equal(t, "Cocacola", Label(2))
	assert.Equal(t, 8, IndexOf("Togo"))

	got[0] = "Pepsi"
	assert.Equal(t, "ButterCookies", Labels()[0], "callers get a copy")
	assert.Equal(t, 0, IndexOf("ButterCookies"))
	assert.Equal(t, 2, IndexOf("Cocacola"))
	assert.Equal(t, -1, IndexOf("Pepsi"))
}

func TestPrepare(t *testing.T) {
	t.Run("resizes, reorders and scales", func(t *testing.T) {
		img := solid(50, 30, 0, 102, 255)
		defer img.Close()

		tensor, err := Prepare(img)
		require.NoError(t, err)

		assert.Equal(t, [4]int{1, 224, 224, 3}, tensor.Shape)
		require.Len(t, tensor.Data, 224*224*3)
		for _, xy := range [][2]int{{0, 0}, {100, 50}, {223, 223}} {
			assert.InDelta(t, 1.0, tensor.At(xy[0], xy[1], 0), 1e-6, "red first")
			assert.InDelta(t, 0.4, tensor.At(xy[0], xy[1], 1), 1e-6)
			assert.InDelta(t, 0.0, tensor.At(xy[0], xy[1], 2), 1e-6)
		}
		assert.Equal(t, frame.BGR, img.Order, "input must be left untouched")
	})

	t.Run("RGB input is not swapped again", func(t *testing.T) {
		img := solid(10, 10, 255, 0, 0).ToRGB()
		defer img.Close()

		tensor, err := Prepare(img)
		require.NoError(t, err)

		assert.InDelta(t, 0.0, tensor.At(5, 5, 0), 1e-6)
		assert.InDelta(t, 1.0, tensor.At(5, 5, 2), 1e-6)
	})

	t.Run("values stay in unit range", func(t *testing.T) {
		mat := gocv.NewMatWithSize(40, 40, gocv.MatTypeCV8UC3)
		for y := 0; y < 40; y++ {
			for x := 0; x < 120; x++ {
				mat.SetUCharAt(y, x, uint8((x*7+y*13)%256))
			}
		}
		img := frame.New(mat, frame.BGR)
		defer img.Close()

		tensor, err := Prepare(img)
		require.NoError(t, err)
		for _, v := range tensor.Data {
			require.True(t, v >= 0 && v <= 1, "value %v out of range", v)
		}
	})

	t.Run("empty crop is invalid", func(t *testing.T) {
		_, err := Prepare(frame.Image{})
		assert.ErrorIs(t, err, frame.ErrEmptyImage)

		empty := frame.New(gocv.NewMat(), frame.BGR)
		defer empty.Close()
		_, err = Prepare(empty)
		assert.ErrorIs(t, err, frame.ErrEmptyImage)
	})
}

func TestTensorValidate(t *testing.T) {
	tests := []struct {
		name    string
		tensor  Tensor
		wantErr bool
	}{
		{"valid", validTensor(), false},
		{"wrong shape", Tensor{Shape: [4]int{1, 3, 224, 224}, Data: make([]float32, 224*224*3)}, true},
		{"short data", Tensor{Shape: InputShape, Data: make([]float32, 10)}, true},
		{"zero value", Tensor{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tensor.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTensor)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckOutput(t *testing.T) {
	assert.NoError(t, CheckOutput(make([]float32, 10)))
	assert.ErrorIs(t, CheckOutput(make([]float32, 9)), ErrBadOutput)
	assert.ErrorIs(t, CheckOutput(nil), ErrBadOutput)

	bad := make([]float32, 10)
	bad[3] = float32(math.NaN())
	assert.ErrorIs(t, CheckOutput(bad), ErrBadOutput)
	bad[3] = float32(math.Inf(1))
	assert.ErrorIs(t, CheckOutput(bad), ErrBadOutput)

	logits := make([]float32, 10)
	logits[0] = 1.7
	assert.ErrorIs(t, CheckOutput(logits), ErrBadOutput)
	logits[0] = -0.2
	assert.ErrorIs(t, CheckOutput(logits), ErrBadOutput)

	edges := make([]float32, 10)
	edges[0], edges[1] = 0, 1
	assert.NoError(t, CheckOutput(edges))
}

func TestMockClassifier(t *testing.T) {
	t.Run("returns a copy of the configured vector", func(t *testing.T) {
		conf := Vector(map[string]float32{"Cocacola": 0.9})
		mock := NewMockClassifier(conf)

		got, err := mock.Classify(context.Background(), validTensor())
		require.NoError(t, err)
		assert.Equal(t, conf, got)

		got[0] = 1
		assert.Equal(t, float32(0), conf[0])
		assert.Equal(t, 1, mock.Calls())
	})

	t.Run("rejects invalid tensors before counting", func(t *testing.T) {
		mock := NewMockClassifier(Vector(nil))

		_, err := mock.Classify(context.Background(), Tensor{})

		assert.ErrorIs(t, err, ErrInvalidTensor)
		assert.Zero(t, mock.Calls())
	})

	t.Run("returns configured error", func(t *testing.T) {
		boom := errors.New("model unavailable")
		mock := NewMockClassifier(nil)
		mock.SetError(boom)

		_, err := mock.Classify(context.Background(), validTensor())

		assert.Equal(t, boom, err)
	})

	t.Run("short vector is a bad output", func(t *testing.T) {
		mock := NewMockClassifier(Confidences{0.5, 0.5})

		_, err := mock.Classify(context.Background(), validTensor())

		assert.ErrorIs(t, err, ErrBadOutput)
	})

	t.Run("implements Classifier interface", func(t *testing.T) {
		var _ Classifier = (*MockClassifier)(nil)
		var _ Classifier = (*RemoteClassifier)(nil)
		var _ Classifier = (*ONNXClassifier)(nil)
	})
}

func TestVector_PanicsOnUnknownLabel(t *testing.T) {
	assert.Panics(t, func() { Vector(map[string]float32{"Pepsi": 1}) })
}

func TestRemoteClassifier(t *testing.T) {
	t.Run("posts instances and reads predictions", func(t *testing.T) {
		var got predictRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/models/product:predict", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"predictions":[[0.01,0.02,0.9,0,0,0,0,0,0.07,0]]}`))
		}))
		defer srv.Close()

		tensor := validTensor()
		tensor.Data[(5*InputSize+7)*3+2] = 0.25

		c := NewRemoteClassifier(srv.URL+"/v1/models/product:predict", time.Second)
		conf, err := c.Classify(context.Background(), tensor)

		require.NoError(t, err)
		require.Len(t, conf, 10)
		assert.InDelta(t, 0.9, conf[2], 1e-6)

		require.Len(t, got.Instances, 1)
		require.Len(t, got.Instances[0], InputSize)
		require.Len(t, got.Instances[0][0], InputSize)
		require.Len(t, got.Instances[0][0][0], 3)
		assert.InDelta(t, 0.25, got.Instances[0][5][7][2], 1e-6)
	})

	t.Run("server error is a failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
		}))
		defer srv.Close()

		_, err := NewRemoteClassifier(srv.URL, time.Second).Classify(context.Background(), validTensor())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "model not loaded")
	})

	t.Run("wrong vector length is a bad output", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"predictions":[[0.5,0.5]]}`))
		}))
		defer srv.Close()

		_, err := NewRemoteClassifier(srv.URL, time.Second).Classify(context.Background(), validTensor())

		assert.ErrorIs(t, err, ErrBadOutput)
	})

	t.Run("invalid tensor never reaches the server", func(t *testing.T) {
		hit := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hit = true
		}))
		defer srv.Close()

		_, err := NewRemoteClassifier(srv.URL, time.Second).Classify(context.Background(), Tensor{})

		assert.ErrorIs(t, err, ErrInvalidTensor)
		assert.False(t, hit)
	})

	t.Run("cancelled context fails the request", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"predictions":[[0,0,0,0,0,0,0,0,0,0]]}`))
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewRemoteClassifier(srv.URL, time.Second).Classify(ctx, validTensor())

		assert.Error(t, err)
	})
}

func TestONNXClassifier_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	model := os.Getenv("PRODUKSCAN_MODEL")
	if model == "" {
		t.Skip("skipping test - PRODUKSCAN_MODEL not set")
	}

	cfg := DefaultONNXConfig()
	cfg.ModelPath = model
	cfg.LibraryPath = os.Getenv("ONNXRUNTIME_LIB")

	c, err := NewONNXClassifier(cfg)
	if err != nil {
		t.Skipf("skipping test - onnxruntime not available: %v", err)
	}
	defer c.Close()

	conf, err := c.Classify(context.Background(), validTensor())
	require.NoError(t, err)
	assert.Len(t, conf, NumClasses)
}
