package timeline

import (
	"errors"
	"math"
	"testing"

	"github.com/keagan/panelreel/internal/clips"
	"github.com/rs/zerolog"
)

func testPanels(n int) []clips.Panel {
	panels := make([]clips.Panel, n)
	for i := range panels {
		panels[i] = clips.Panel{
			Image: &clips.SourceImage{ID: string(rune('a' + i)), Width: 800, Height: 1200},
		}
	}
	return panels
}

func checkContiguous(t *testing.T, tl clips.RenderTimeline) {
	t.Helper()
	if err := tl.Validate(); err != nil {
		t.Fatalf("timeline invalid: %v", err)
	}
	sum := 0.0
	for i, c := range tl.Clips {
		sum += c.Duration
		if i+1 < len(tl.Clips) && math.Abs(c.End()-tl.Clips[i+1].StartTime) > clips.DurationTolerance {
			t.Errorf("clip %d ends at %.3f but clip %d starts at %.3f", i, c.End(), i+1, tl.Clips[i+1].StartTime)
		}
	}
	if math.Abs(sum-tl.TotalDuration) > clips.DurationTolerance {
		t.Errorf("durations sum to %.3f, expected %.3f", sum, tl.TotalDuration)
	}
}

func TestBuildDurations(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	timings := []clips.PanelTiming{
		{Panel: 1, StartTime: 0},
		{Panel: 2, StartTime: 2},
		{Panel: 3, StartTime: 5},
	}

	tl, err := b.Build(timings, testPanels(3), 6.5)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	checkContiguous(t, tl)

	want := []float64{2, 3, 1.5}
	got := tl.Durations()
	if len(got) != len(want) {
		t.Fatalf("expected %d clips, got %d", len(want), len(got))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("clip %d: expected duration %.3f, got %.3f", i, want[i], got[i])
		}
	}
}

func TestBuildForcesFirstStartToZero(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	tl, err := b.Build([]clips.PanelTiming{{Panel: 1, StartTime: 0.3}}, testPanels(1), 4.2)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(tl.Clips) != 1 {
		t.Fatalf("expected 1 clip, got %d", len(tl.Clips))
	}
	c := tl.Clips[0]
	if c.StartTime != 0 || c.Duration != 4.2 {
		t.Errorf("expected clip [0, 4.2), got start %.3f duration %.3f", c.StartTime, c.Duration)
	}
}

func TestBuildSkipsOutOfRangePanel(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	timings := []clips.PanelTiming{
		{Panel: 1, StartTime: 0},
		{Panel: 7, StartTime: 1},
		{Panel: 2, StartTime: 2},
		{Panel: 0, StartTime: 3},
	}

	tl, err := b.Build(timings, testPanels(5), 4)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	checkContiguous(t, tl)
	if len(tl.Clips) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(tl.Clips))
	}
	if tl.Clips[0].Panel != 1 || tl.Clips[1].Panel != 2 {
		t.Errorf("unexpected panels %d, %d", tl.Clips[0].Panel, tl.Clips[1].Panel)
	}
	if tl.Clips[0].Duration != 2 {
		t.Errorf("expected first clip to run until panel 2, got %.3f", tl.Clips[0].Duration)
	}
}

func TestBuildSkipsNonIncreasingStarts(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	timings := []clips.PanelTiming{
		{Panel: 1, StartTime: 0},
		{Panel: 2, StartTime: 3},
		{Panel: 3, StartTime: 2},
		{Panel: 4, StartTime: 3},
		{Panel: 5, StartTime: 9},
	}

	tl, err := b.Build(timings, testPanels(5), 5)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	checkContiguous(t, tl)
	if len(tl.Clips) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(tl.Clips))
	}
	if tl.Clips[1].Panel != 2 || tl.Clips[1].Duration != 2 {
		t.Errorf("expected panel 2 for the last 2s, got panel %d for %.3f", tl.Clips[1].Panel, tl.Clips[1].Duration)
	}
}

func TestBuildAbsorbsDegenerateClips(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	t.Run("middle", func(t *testing.T) {
		timings := []clips.PanelTiming{
			{Panel: 1, StartTime: 0},
			{Panel: 2, StartTime: 2},
			{Panel: 3, StartTime: 2.005},
		}
		tl, err := b.Build(timings, testPanels(3), 5)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		checkContiguous(t, tl)
		if len(tl.Clips) != 2 {
			t.Fatalf("expected degenerate clip dropped, got %d clips", len(tl.Clips))
		}
		if tl.Clips[1].Panel != 3 {
			t.Errorf("expected panel 3 to follow panel 1, got %d", tl.Clips[1].Panel)
		}
	})

	t.Run("first", func(t *testing.T) {
		timings := []clips.PanelTiming{
			{Panel: 1, StartTime: 0},
			{Panel: 2, StartTime: 0.004},
		}
		tl, err := b.Build(timings, testPanels(2), 3)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		checkContiguous(t, tl)
		if len(tl.Clips) != 1 || tl.Clips[0].Panel != 2 || tl.Clips[0].StartTime != 0 {
			t.Errorf("expected a single clip of panel 2 from 0, got %+v", tl.Clips)
		}
	})

	t.Run("last", func(t *testing.T) {
		timings := []clips.PanelTiming{
			{Panel: 1, StartTime: 0},
			{Panel: 2, StartTime: 2.995},
		}
		tl, err := b.Build(timings, testPanels(2), 3)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		checkContiguous(t, tl)
		if len(tl.Clips) != 1 {
			t.Errorf("expected trailing degenerate clip dropped, got %d clips", len(tl.Clips))
		}
	})
}

func TestBuildNoUsableTimings(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	_, err := b.Build([]clips.PanelTiming{{Panel: 9, StartTime: 0}}, testPanels(2), 3)
	if !errors.Is(err, ErrNoClips) {
		t.Errorf("expected ErrNoClips, got %v", err)
	}
	if _, err := b.Build(nil, testPanels(2), 0); err == nil {
		t.Error("expected error for zero duration")
	}
}

func TestBuildClonesRegions(t *testing.T) {
	b := NewBuilder(zerolog.Nop())
	panels := testPanels(1)
	panels[0].Regions = []clips.CropRegion{clips.NewCropRegion(0, 0, 100, 100)}

	timings := []clips.PanelTiming{{Panel: 1, StartTime: 0}}
	first, err := b.Build(timings, panels, 2)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Build(timings, panels, 2)
	if err != nil {
		t.Fatal(err)
	}
	if first.Clips[0].Regions[0].ID == second.Clips[0].Regions[0].ID {
		t.Error("each build must own fresh regions")
	}
	if first.Clips[0].Regions[0].ID == panels[0].Regions[0].ID {
		t.Error("clip regions must not alias panel regions")
	}
}

func TestDedupe(t *testing.T) {
	a := &clips.SourceImage{ID: "a"}
	b := &clips.SourceImage{ID: "b"}
	c := &clips.SourceImage{ID: "c"}
	seq := []clips.Clip{{Image: b}, {Image: a}, {Image: b}, {Image: c}, {Image: a}}

	assets := Dedupe(seq)
	if len(assets.Images) != 3 {
		t.Fatalf("expected 3 distinct images, got %d", len(assets.Images))
	}
	wantOrder := []string{"b", "a", "c"}
	for i, id := range wantOrder {
		if assets.Images[i].ID != id {
			t.Errorf("slot %d: expected %s, got %s", i, id, assets.Images[i].ID)
		}
		if assets.Slots[id] != i {
			t.Errorf("image %s: expected slot %d, got %d", id, i, assets.Slots[id])
		}
	}

	again := Dedupe(seq)
	for id, slot := range assets.Slots {
		if again.Slots[id] != slot {
			t.Errorf("slot for %s changed between runs: %d vs %d", id, slot, again.Slots[id])
		}
	}

	if slot, ok := assets.Slot(c); !ok || slot != 2 {
		t.Errorf("expected slot 2 for c, got %d (%v)", slot, ok)
	}
}
