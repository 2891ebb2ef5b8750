package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultRemoteTimeout bounds one predict request.
const DefaultRemoteTimeout = 10 * time.Second

type predictRequest struct {
	Instances [][][][]float32 `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float32 `json:"predictions"`
	Error       string      `json:"error,omitempty"`
}

// RemoteClassifier calls a model server speaking the TensorFlow Serving REST
// predict API. It is safe for concurrent use.
type RemoteClassifier struct {
	client *resty.Client
	url    string
}

// NewRemoteClassifier creates a classifier posting to url, for example
// http://localhost:8501/v1/models/product:predict.
func NewRemoteClassifier(url string, timeout time.Duration) *RemoteClassifier {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &RemoteClassifier{client: client, url: url}
}

// Classify implements Classifier.
func (c *RemoteClassifier) Classify(ctx context.Context, t Tensor) (Confidences, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	var result predictResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(predictRequest{Instances: [][][][]float32{nest(t)}}).
		SetResult(&result).
		SetError(&result).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("predict request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("classifier service returned %s: %s", resp.Status(), result.Error)
	}
	if len(result.Predictions) != 1 {
		return nil, fmt.Errorf("%w: got %d predictions, want 1", ErrBadOutput, len(result.Predictions))
	}

	out := result.Predictions[0]
	if err := CheckOutput(out); err != nil {
		return nil, err
	}
	return Confidences(out), nil
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (c *RemoteClassifier) Close() error {
	return nil
}

// nest reshapes the batch-of-one tensor into [height][width][channels].
func nest(t Tensor) [][][]float32 {
	h, w, ch := t.Shape[1], t.Shape[2], t.Shape[3]
	rows := make([][][]float32, h)
	for y := range rows {
		rows[y] = make([][]float32, w)
		for x := range rows[y] {
			i := (y*w + x) * ch
			rows[y][x] = t.Data[i : i+ch : i+ch]
		}
	}
	return rows
}
