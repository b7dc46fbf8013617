package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/daot/disasterdata/internal/domain"
)

// ONNXClassifier runs a pre-trained text classification model through a
// hugot pipeline. The model is expected to emit the hazard label names;
// anything it emits outside the known set maps to "other".
type ONNXClassifier struct {
	session *hugot.Session
	pipe    *pipelines.TextClassificationPipeline
}

// NewONNXClassifier loads the model at modelPath into a Go-backend hugot
// session.
func NewONNXClassifier(modelPath string) (*ONNXClassifier, error) {
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("create hugot session: %w", err)
	}

	config := hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "disaster-classifier",
	}
	pipe, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("create classification pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("create classification pipeline: %w", err)
	}

	return &ONNXClassifier{session: session, pipe: pipe}, nil
}

func (c *ONNXClassifier) Classify(_ context.Context, text string) (domain.Label, error) {
	result, err := c.pipe.RunPipeline([]string{text})
	if err != nil {
		return domain.LabelOther, fmt.Errorf("run classification pipeline: %w", err)
	}
	if len(result.ClassificationOutputs) == 0 || len(result.ClassificationOutputs[0]) == 0 {
		return domain.LabelOther, nil
	}

	// Take the highest-scoring class.
	best := result.ClassificationOutputs[0][0]
	for _, out := range result.ClassificationOutputs[0][1:] {
		if out.Score > best.Score {
			best = out
		}
	}

	label := domain.Label(strings.ToLower(best.Label))
	if !label.IsHazard() {
		return domain.LabelOther, nil
	}
	return label, nil
}

// Close releases the ONNX session.
func (c *ONNXClassifier) Close() error {
	return c.session.Destroy()
}
