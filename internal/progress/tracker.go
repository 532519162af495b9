// Package progress infers a coarse (stage, percent) estimate from the
// unstructured line output of the external photogrammetry process. It is a
// best-effort keyword classifier; its only hard contract is that stage rank
// and percent are monotonically non-decreasing for a given job.
package progress

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Ale866/malta-photogramme3d/internal/job"
)

// Classifier maps one output line to a candidate stage. Implementations must
// be safe for concurrent use.
type Classifier interface {
	Classify(line string) (job.Stage, bool)
}

// stageGroup couples a candidate stage with the substrings that indicate it.
type stageGroup struct {
	stage    job.Stage
	keywords []string
}

// KeywordClassifier checks groups from the latest pipeline phase to the
// earliest: late-phase keywords ("export") are rare and specific, while
// early-phase ones would otherwise false-positive on unrelated log chatter.
type KeywordClassifier struct {
	groups []stageGroup
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{groups: []stageGroup{
		{job.StagePackaging, []string{"export", "packag", "publish", "writing output", "convertsfmformat"}},
		{job.StageMesh, []string{"mesh", "texturing", "texture", "splat", "gaussian"}},
		{job.StageMVS, []string{"depth map", "depthmap", "mvs", "stereo", "densify", "densepointcloud"}},
		{job.StageSfM, []string{"structurefrommotion", "structure from motion", "sfm", "featureextraction", "featurematching", "feature matching", "imagematching"}},
	}}
}

func (k *KeywordClassifier) Classify(line string) (job.Stage, bool) {
	lower := strings.ToLower(line)
	for _, g := range k.groups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return g.stage, true
			}
		}
	}
	return "", false
}

// Event is emitted for every consumed line.
type Event struct {
	Stage    job.Stage
	Progress int
	Line     string
}

// percentRe matches a number immediately followed by '%'.
var percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

// Tracker holds the monotonic per-job estimate.
type Tracker struct {
	classifier Classifier
	stage      job.Stage
	progress   int
}

func NewTracker(classifier Classifier) *Tracker {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	return &Tracker{classifier: classifier, stage: job.StageStarting, progress: 0}
}

// Consume folds one trimmed, non-empty output line into the estimate and
// returns the resulting event.
func (t *Tracker) Consume(line string) Event {
	if st, ok := t.classifier.Classify(line); ok && st.Rank() >= t.stage.Rank() {
		t.stage = st
		if floor := st.Floor(); floor > t.progress {
			t.progress = floor
		}
	}

	if pct, ok := percentInLine(line); ok {
		// remap the raw percent into the current stage's sub-range
		floor := t.stage.Floor()
		span := t.stage.Ceil() - floor
		mapped := floor + int(pct/100*float64(span))
		if mapped > t.progress {
			t.progress = mapped
		}
	}

	t.progress = job.ClampProgress(t.progress)
	return Event{Stage: t.stage, Progress: t.progress, Line: line}
}

// Stage returns the current stage estimate.
func (t *Tracker) Stage() job.Stage { return t.stage }

// Progress returns the current percent estimate.
func (t *Tracker) Progress() int { return t.progress }

// percentInLine finds the first "N%" token in range [0,100]. Out-of-range
// values are treated as spurious and discarded.
func percentInLine(line string) (float64, bool) {
	m := percentRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
