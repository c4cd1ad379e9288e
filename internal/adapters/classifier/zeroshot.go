// Package classifier exposes a locally hosted zero-shot model as an optional
// signal source. The model runs in-process; Start downloads and converts it
// on first use, which can take minutes on a cold models directory.
package classifier

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/zeroshotclassifier"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	log "github.com/sirupsen/logrus"

	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/signal"
)

// SourceName labels the classifier in the orchestrator report.
const SourceName = "classifier"

const (
	DefaultModel     = "MoritzLaurer/mDeBERTa-v3-base-mnli-xnli"
	DefaultThreshold = 0.7

	minClassifyRunes = 10
)

// candidateLabels are the hypotheses the model scores against. labelClean
// must stay last-resort neutral; anything else winning above the threshold
// flags the message.
var candidateLabels = []string{
	"spam or unsolicited advertising",
	"scam or fraud attempt",
	"normal conversation",
}

const labelClean = "normal conversation"

// ZeroShot loads a multilingual NLI model and emits classifier_flagged when
// a spam hypothesis wins with enough confidence. It is wired as a stage-two
// source so cheap signals veto the inference cost first.
type ZeroShot struct {
	catalog   *signal.Catalog
	modelsDir string
	modelName string
	threshold float64

	modelMutex sync.RWMutex
	model      zeroshotclassifier.Interface
}

func NewZeroShot(catalog *signal.Catalog, modelsDir, modelName string, threshold float64) *ZeroShot {
	if catalog == nil {
		catalog = signal.NewCatalog()
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &ZeroShot{
		catalog:   catalog,
		modelsDir: modelsDir,
		modelName: modelName,
		threshold: threshold,
	}
}

func (z *ZeroShot) getLogEntry() *log.Entry {
	return log.WithField("object", "ZeroShotClassifier")
}

// Start loads the model. Cybertron logs through zerolog; everything below
// warning is noise once the model is converted.
func (z *ZeroShot) Start(_ context.Context) error {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	z.getLogEntry().WithField("model", z.modelName).Info("loading zero-shot model")
	model, err := tasks.Load[zeroshotclassifier.Interface](&tasks.Config{
		ModelsDir:           z.modelsDir,
		ModelName:           z.modelName,
		DownloadPolicy:      tasks.DownloadMissing,
		ConversionPolicy:    tasks.ConvertMissing,
		ConversionPrecision: tasks.F32,
	})
	if err != nil {
		return errors.WithMessage(err, "load zero-shot model")
	}

	z.modelMutex.Lock()
	z.model = model
	z.modelMutex.Unlock()
	z.getLogEntry().WithField("model", z.modelName).Info("zero-shot model ready")
	return nil
}

// Stop releases the model reference. Cybertron has no teardown API; the
// runtime memory goes with the last reference.
func (z *ZeroShot) Stop(_ context.Context) error {
	z.modelMutex.Lock()
	z.model = nil
	z.modelMutex.Unlock()
	return nil
}

func (z *ZeroShot) Collect(ctx context.Context, req pipeline.Request) (signal.Set, error) {
	msgText := strings.TrimSpace(req.Message.Text)
	if utf8.RuneCountInString(msgText) < minClassifyRunes {
		return nil, nil
	}
	if req.Prior.Has(signal.VeryShortMessage) {
		return nil, nil
	}

	z.modelMutex.RLock()
	model := z.model
	z.modelMutex.RUnlock()
	if model == nil {
		return nil, errors.New("zero-shot model is not loaded")
	}

	result, err := model.Classify(ctx, msgText, zeroshotclassifier.Parameters{
		CandidateLabels:    candidateLabels,
		HypothesisTemplate: "{}",
		MultiLabel:         false,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "classify")
	}

	label, score := topLabel(result.Labels, result.Scores)
	if label == "" || label == labelClean || score < z.threshold {
		return nil, nil
	}
	return signal.Set{z.catalog.Make(req.Profile.Kind, signal.ClassifierFlagged)}, nil
}

// topLabel picks the strongest hypothesis without assuming the response is
// sorted.
func topLabel(labels []string, scores []float64) (string, float64) {
	best := ""
	bestScore := 0.0
	for i := range labels {
		if i >= len(scores) {
			break
		}
		if scores[i] > bestScore {
			best, bestScore = labels[i], scores[i]
		}
	}
	return best, bestScore
}
