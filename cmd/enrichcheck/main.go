// Command enrichcheck runs sample text through the enrichment stages and
// prints the derived fields as JSON, one object per input line. Useful
// for eyeballing gate, sentiment, and classifier behavior before
// pointing the monitor at live traffic.
//
// Usage:
//
//	echo "Wildfire spreading fast near Malibu, stay safe everyone here" | go run ./cmd/enrichcheck
//	go run ./cmd/enrichcheck -text "..." -model path/to/model.onnx
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/daot/disasterdata/internal/classify"
	"github.com/daot/disasterdata/internal/domain"
	"github.com/daot/disasterdata/internal/enrich"
	"github.com/daot/disasterdata/internal/geocode"
)

type report struct {
	Text      string  `json:"text"`
	Discarded string  `json:"discarded,omitempty"`
	Cleaned   string  `json:"cleaned,omitempty"`
	Location  string  `json:"location,omitempty"`
	NormLoc   string  `json:"norm_loc,omitempty"`
	Sentiment float64 `json:"sentiment"`
	Label     string  `json:"label,omitempty"`
}

func main() {
	text := flag.String("text", "", "single input; when empty, lines are read from stdin")
	modelPath := flag.String("model", "", "optional ONNX classification model")
	minWords := flag.Int("min-words", 8, "minimum word count gate")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var classifier classify.Classifier
	if *modelPath != "" {
		onnx, err := classify.NewONNXClassifier(*modelPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load model:", err)
			os.Exit(1)
		}
		defer onnx.Close() //nolint:errcheck // session teardown at exit
		classifier = onnx
	} else {
		classifier = classify.NewKeywordClassifier()
	}

	enricher := enrich.NewEnricher(*minWords, classifier, logger)
	out := json.NewEncoder(os.Stdout)

	if *text != "" {
		check(enricher, *text, out)
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			check(enricher, line, out)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "read stdin:", err)
		os.Exit(1)
	}
}

func check(enricher *enrich.Enricher, text string, out *json.Encoder) {
	raw := domain.RawPost{
		URI:       "enrichcheck://stdin",
		CreatedAt: domain.Now(),
		Query:     "enrichcheck",
		Text:      text,
	}

	r := report{Text: text, Sentiment: enrich.Sentiment(text)}

	post, err := enricher.Enrich(context.Background(), raw)
	if err != nil {
		r.Discarded = enrich.DiscardReason(err)
		if r.Discarded == "" {
			r.Discarded = err.Error()
		}
		r.Cleaned = enrich.Clean(text)
		r.Location = enrich.ExtractLocation(text)
	} else {
		r.Cleaned = post.Cleaned
		r.Location = post.Location
		r.Label = string(post.Label)
	}
	if r.Location != "" {
		r.NormLoc = geocode.Normalize(r.Location)
	}

	out.Encode(&r) //nolint:errcheck // stdout write
}
