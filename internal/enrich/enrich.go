// Package enrich turns raw posts into enriched records: cleaned text,
// a candidate location mention, a sentiment score, and a disaster-type
// label. Posts that fail the relevance gates are discarded, not errored.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/bbalet/stopwords"
	"github.com/divan/num2words"
	"github.com/forPelevin/gomoji"
	"github.com/grassmudhorses/vader-go/lexicon"
	"github.com/grassmudhorses/vader-go/sentitext"

	"github.com/daot/disasterdata/internal/classify"
	"github.com/daot/disasterdata/internal/domain"
)

// Discard sentinels. These mark intentional relevance filtering, not
// failures; the pipeline counts them and moves on.
var (
	ErrTooShort   = errors.New("post below minimum word count")
	ErrNoLocation = errors.New("no usable location mention")
	ErrIrrelevant = errors.New("label is not a tracked hazard")
)

// DiscardReason maps a discard sentinel to a short metric label.
// Returns "" for errors that are not discards.
func DiscardReason(err error) string {
	switch {
	case errors.Is(err, ErrTooShort):
		return "too_short"
	case errors.Is(err, ErrNoLocation):
		return "no_location"
	case errors.Is(err, ErrIrrelevant):
		return "irrelevant"
	default:
		return ""
	}
}

var (
	urlRe     = regexp.MustCompile(`http\S+`)
	mentionRe = regexp.MustCompile(`@\w+|#`)
	noiseRe   = regexp.MustCompile(`[^a-zA-Z\s.,]`)
)

// locativeCues introduce a place mention in free text ("near Malibu").
var locativeCues = map[string]struct{}{
	"in": {}, "near": {}, "at": {}, "around": {},
	"outside": {}, "across": {}, "from": {}, "hits": {}, "hit": {},
}

// Enricher derives the enriched fields for one post at a time. It is
// stateless apart from its collaborators and safe for concurrent use.
type Enricher struct {
	minWords   int
	classifier classify.Classifier
	logger     *slog.Logger
}

func NewEnricher(minWords int, classifier classify.Classifier, logger *slog.Logger) *Enricher {
	return &Enricher{
		minWords:   minWords,
		classifier: classifier,
		logger:     logger,
	}
}

// Enrich applies the relevance gates and derives the enriched fields.
// The word-count and location gates are hard: failing either discards
// the post. Every other sub-step falls back to a safe default instead
// of aborting the record.
func (e *Enricher) Enrich(ctx context.Context, raw domain.RawPost) (domain.EnrichedPost, error) {
	if len(strings.Fields(raw.Text)) < e.minWords {
		return domain.EnrichedPost{}, ErrTooShort
	}

	mention := ExtractLocation(raw.Text)
	if mention == "" {
		return domain.EnrichedPost{}, ErrNoLocation
	}

	cleaned := Clean(raw.Text)
	score := Sentiment(raw.Text)

	label, err := e.classifier.Classify(ctx, cleaned)
	if err != nil {
		e.logger.Warn("classification failed, defaulting label",
			slog.String("uri", raw.URI),
			slog.String("error", err.Error()))
		label = domain.LabelOther
	}
	if !label.IsHazard() {
		return domain.EnrichedPost{}, ErrIrrelevant
	}

	return domain.EnrichedPost{
		RawPost:     raw,
		Cleaned:     cleaned,
		Location:    mention,
		Sentiment:   score,
		Label:       label,
		ProcessedAt: domain.Now(),
	}, nil
}

// Clean normalizes post text for classification: lower-case, drop URLs
// and user mentions, strip hashtag markers, spell out emoji and
// numerals, then remove stop words. The result may be empty.
func Clean(text string) string {
	t := strings.ToLower(text)
	t = urlRe.ReplaceAllString(t, "")
	t = mentionRe.ReplaceAllString(t, "")

	for _, em := range gomoji.FindAll(t) {
		desc := strings.ReplaceAll(em.Slug, "-", " ")
		t = strings.ReplaceAll(t, em.Character, " "+desc+" ")
	}

	fields := strings.Fields(t)
	for i, f := range fields {
		if n, err := strconv.Atoi(f); err == nil {
			fields[i] = num2words.Convert(n)
		}
	}
	t = stopwords.CleanString(strings.Join(fields, " "), "en", false)

	return strings.Join(strings.Fields(t), " ")
}

// Sentiment scores the raw text with the VADER lexicon and returns the
// compound polarity in [-1, 1].
func Sentiment(text string) float64 {
	parsed := sentitext.Parse(text, lexicon.DefaultLexicon)
	return sentitext.PolarityScore(parsed).Compound
}

// ExtractLocation returns the first well-formed place mention: a run of
// capitalized words immediately following a locative cue word. Mentions
// containing characters outside letters, spaces, and basic punctuation
// are rejected as noise. Returns "" when no usable mention exists.
func ExtractLocation(text string) string {
	tokens := strings.Fields(urlRe.ReplaceAllString(text, ""))
	for i := 0; i < len(tokens)-1; i++ {
		cue := strings.ToLower(trimPunct(tokens[i]))
		if _, ok := locativeCues[cue]; !ok {
			continue
		}
		var run []string
		for j := i + 1; j < len(tokens); j++ {
			word := trimPunct(tokens[j])
			if word == "" || !startsUpper(word) {
				break
			}
			run = append(run, word)
		}
		if len(run) == 0 {
			continue
		}
		mention := strings.Join(run, " ")
		if noiseRe.MatchString(mention) {
			continue
		}
		return mention
	}
	return ""
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}
