package progress

import (
	"testing"

	"github.com/Ale866/malta-photogramme3d/internal/job"
)

func TestStageInference_Deterministic(t *testing.T) {
	tr := NewTracker(nil)

	ev := tr.Consume("Launching SfM reconstruction...")
	if ev.Stage != job.StageSfM {
		t.Fatalf("expected sfm, got %s", ev.Stage)
	}
	if ev.Progress < 5 {
		t.Fatalf("expected progress >= 5, got %d", ev.Progress)
	}

	ev = tr.Consume("MVS depth map 42%")
	if ev.Stage != job.StageMVS {
		t.Fatalf("expected mvs, got %s", ev.Stage)
	}
	// 40 + 0.42*(70-40) = 52
	if ev.Progress != 52 {
		t.Fatalf("expected 52, got %d", ev.Progress)
	}
}

func TestStageNeverRegresses(t *testing.T) {
	tr := NewTracker(nil)

	tr.Consume("Texturing pass started")
	if tr.Stage() != job.StageMesh {
		t.Fatalf("expected mesh_or_splat, got %s", tr.Stage())
	}

	ev := tr.Consume("FeatureMatching: chunk 3")
	if ev.Stage != job.StageMesh {
		t.Fatalf("stage regressed to %s", ev.Stage)
	}
	if ev.Progress < job.StageMesh.Floor() {
		t.Fatalf("progress fell below mesh floor: %d", ev.Progress)
	}
}

func TestProgressMonotonic(t *testing.T) {
	tr := NewTracker(nil)

	lines := []string{
		"CameraInit done",
		"FeatureExtraction 80%",
		"FeatureMatching 10%", // lower in-stage percent must not lower progress
		"DepthMap 5%",         // later stage, small percent: floor wins
		"Meshing 50%",
		"Export obj 100%",
	}
	last := 0
	for _, line := range lines {
		ev := tr.Consume(line)
		if ev.Progress < last {
			t.Fatalf("progress decreased: %d -> %d at %q", last, ev.Progress, line)
		}
		last = ev.Progress
	}
	if tr.Stage() != job.StagePackaging {
		t.Fatalf("expected packaging at the end, got %s", tr.Stage())
	}
	if tr.Progress() != 100 {
		t.Fatalf("expected 100 at the end, got %d", tr.Progress())
	}
}

func TestPercentOutOfRangeDiscarded(t *testing.T) {
	tr := NewTracker(nil)
	tr.Consume("SfM pipeline start")
	before := tr.Progress()

	ev := tr.Consume("weird counter 250% of budget")
	if ev.Progress != before {
		t.Fatalf("spurious percent changed progress: %d -> %d", before, ev.Progress)
	}
}

func TestUnmatchedLineIsNoOp(t *testing.T) {
	tr := NewTracker(nil)
	ev := tr.Consume("some unrelated log chatter")
	if ev.Stage != job.StageStarting || ev.Progress != 0 {
		t.Fatalf("unexpected %s/%d for unmatched line", ev.Stage, ev.Progress)
	}
	if ev.Line != "some unrelated log chatter" {
		t.Fatalf("event must carry the original line, got %q", ev.Line)
	}
}

func TestClassifierPriorityLatestFirst(t *testing.T) {
	c := NewKeywordClassifier()

	// a line mentioning both meshing and export must classify as packaging
	st, ok := c.Classify("Export of textured mesh complete")
	if !ok || st != job.StagePackaging {
		t.Fatalf("expected packaging, got %s ok=%v", st, ok)
	}
}

type fixedClassifier struct{ stage job.Stage }

func (f fixedClassifier) Classify(string) (job.Stage, bool) { return f.stage, true }

func TestCustomClassifierPluggable(t *testing.T) {
	tr := NewTracker(fixedClassifier{stage: job.StagePackaging})
	ev := tr.Consume("anything")
	if ev.Stage != job.StagePackaging || ev.Progress != job.StagePackaging.Floor() {
		t.Fatalf("custom classifier ignored: %s/%d", ev.Stage, ev.Progress)
	}
}
