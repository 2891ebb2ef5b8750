package app

import (
	"context"

	"github.com/ayusman/produkscan/internal/pipeline"
	"github.com/ayusman/produkscan/internal/store"
)

// HistoryRecorder stores every pipeline run in the detection history.
type HistoryRecorder struct {
	detections *store.DetectionRepository
}

// NewHistoryRecorder creates a recorder writing to s.
func NewHistoryRecorder(s *store.Store) *HistoryRecorder {
	return &HistoryRecorder{detections: s.Detections()}
}

// Record implements pipeline.Recorder.
func (r *HistoryRecorder) Record(_ context.Context, out *pipeline.Outcome) error {
	return r.detections.Create(ToDetection(out))
}

// ToDetection converts a run outcome to its history record.
func ToDetection(out *pipeline.Outcome) *store.Detection {
	d := &store.Detection{
		ID:        out.ID,
		Source:    string(out.Source),
		Mode:      string(out.Mode),
		Localized: out.Localized,
		Region:    out.Region,
		Box: store.Box{
			XMin: out.Box.XMin,
			YMin: out.Box.YMin,
			XMax: out.Box.XMax,
			YMax: out.Box.YMax,
		},
		Outcome:    string(out.Status()),
		DurationMs: out.Duration.Milliseconds(),
		CreatedAt:  out.CreatedAt,
		Products:   make([]store.Product, 0, len(out.Result.Products)),
	}

	switch out.Status() {
	case pipeline.StatusInvalid, pipeline.StatusFailed:
		d.Error = out.Err.Error()
	}

	for _, p := range out.Result.Products {
		d.Products = append(d.Products, store.Product{Label: p.Label, Confidence: float64(p.Confidence)})
	}
	return d
}
