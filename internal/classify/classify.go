// Package classify assigns a disaster-type label to cleaned post text.
// The model itself is a black box behind the Classifier interface: a
// deterministic keyword matcher by default, or a pre-trained ONNX text
// classification model when one is configured.
package classify

import (
	"context"
	"strings"

	"github.com/daot/disasterdata/internal/domain"
)

// Classifier labels a piece of cleaned text with a disaster type.
type Classifier interface {
	Classify(ctx context.Context, text string) (domain.Label, error)
}

var hazardKeywords = map[domain.Label][]string{
	domain.LabelHurricane: {
		"hurricane", "cyclone", "typhoon", "storm surge", "landfall",
		"tropical storm", "category five", "category four",
	},
	domain.LabelFlood: {
		"flood", "flooding", "flooded", "flash flood", "levee",
		"inundated", "rising water", "submerged",
	},
	domain.LabelTornado: {
		"tornado", "twister", "funnel cloud", "supercell",
		"touched down", "debris field",
	},
	domain.LabelWildfire: {
		"wildfire", "fire", "blaze", "burning", "acres burned",
		"containment", "brush fire", "evacuation zone", "smoke",
	},
	domain.LabelEarthquake: {
		"earthquake", "quake", "aftershock", "seismic", "tremor",
		"magnitude", "epicenter", "richter",
	},
}

// KeywordClassifier scores text against fixed per-hazard keyword tables.
// It is fully deterministic: labels are evaluated in canonical order and
// only a strictly higher score changes the winner.
type KeywordClassifier struct{}

// NewKeywordClassifier creates the default classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

func (c *KeywordClassifier) Classify(_ context.Context, text string) (domain.Label, error) {
	lower := strings.ToLower(text)
	tokens := strings.Fields(lower)

	best := domain.LabelOther
	bestScore := 0

	for _, label := range domain.HazardLabels() {
		score := 0
		for _, kw := range hazardKeywords[label] {
			if strings.Contains(kw, " ") {
				if strings.Contains(lower, kw) {
					score += 2 // phrases are strong signals
				}
				continue
			}
			for _, tok := range tokens {
				if tok == kw {
					score++
				}
			}
		}
		if score > bestScore {
			best, bestScore = label, score
		}
	}
	return best, nil
}
