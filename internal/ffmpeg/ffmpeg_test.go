package ffmpeg

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/timeline"
	"github.com/rs/zerolog"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// testTimeline lays images out back to back with the given durations.
func testTimeline(images []*clips.SourceImage, durations ...float64) clips.RenderTimeline {
	tl := clips.RenderTimeline{}
	start := 0.0
	for i, d := range durations {
		tl.Clips = append(tl.Clips, clips.Clip{
			StartTime: start,
			Duration:  d,
			Panel:     i + 1,
			Image:     images[i%len(images)],
		})
		start += d
	}
	tl.TotalDuration = start
	return tl
}

func testImage(id string) *clips.SourceImage {
	return &clips.SourceImage{ID: id, MimeType: "image/png", Width: 800, Height: 1200}
}

func testSettings(transition clips.Transition) clips.VideoSettings {
	s := clips.DefaultSettings()
	s.Transition = transition
	return s
}

func TestGraphLabelsUnique(t *testing.T) {
	g := NewGraph()
	seen := map[Label]bool{}
	for i := 0; i < 100; i++ {
		l := g.NewLabel()
		if seen[l] {
			t.Fatalf("label %s handed out twice", l)
		}
		seen[l] = true
	}
}

func TestGraphSerialization(t *testing.T) {
	g := NewGraph()
	out := g.Chain([]Label{InputStream(0, "v")},
		NewFilter("scale", Pos(640), Pos(360)),
		NewFilter("zoompan", KV("z", "1+0.25*min(on/30,1)"), KV("d", 1)),
		NewFilter("trim", KV("duration", 1.5)),
	)

	want := "[0:v]scale=640:360,zoompan=z='1+0.25*min(on/30,1)':d=1,trim=duration=1.500[" + string(out) + "]"
	if got := g.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestPlanTransitionsCrossfade(t *testing.T) {
	plan := PlanTransitions([]float64{2.0, 3.0, 1.5}, "fade")

	wantOffsets := []float64{1.5, 4.5}
	if len(plan.Offsets) != len(wantOffsets) {
		t.Fatalf("expected %d offsets, got %d", len(wantOffsets), len(plan.Offsets))
	}
	for i, want := range wantOffsets {
		if !approx(plan.Offsets[i], want) {
			t.Errorf("offset %d: expected %.3f, got %.3f", i, want, plan.Offsets[i])
		}
		if !approx(plan.Fades[i], CrossfadeDuration) {
			t.Errorf("fade %d: expected %.3f, got %.3f", i, CrossfadeDuration, plan.Fades[i])
		}
	}
	if !approx(plan.Total, 6.5) {
		t.Errorf("expected total 6.5, got %.3f", plan.Total)
	}

	// xfade output length is offset + length of the incoming stream
	composed := plan.Lengths[0]
	for i := 1; i < len(plan.Lengths); i++ {
		composed = plan.Offsets[i-1] + plan.Lengths[i]
	}
	if !approx(composed, plan.Total) {
		t.Errorf("chained xfade length %.3f does not match total %.3f", composed, plan.Total)
	}
}

func TestPlanTransitionsShortClips(t *testing.T) {
	plan := PlanTransitions([]float64{0.3, 2, 0.2}, "dissolve")
	for i, o := range plan.Offsets {
		if o < 0 {
			t.Errorf("offset %d is negative: %.3f", i, o)
		}
	}
	if !approx(plan.Fades[0], 0.3) || !approx(plan.Fades[1], 0.2) {
		t.Errorf("fades should shrink to the shorter clip, got %v", plan.Fades)
	}
	if !approx(plan.Offsets[0], 0) {
		t.Errorf("expected first offset 0, got %.3f", plan.Offsets[0])
	}
}

func TestPlanTransitionsCut(t *testing.T) {
	plan := PlanTransitions([]float64{1.25, 2, 0.75}, clips.TransitionCut)
	if len(plan.Offsets) != 0 {
		t.Errorf("cut should have no crossfades, got %v", plan.Offsets)
	}
	if plan.Total != 4 {
		t.Errorf("expected exact sum 4, got %v", plan.Total)
	}
	for i, l := range plan.Lengths {
		if l != []float64{1.25, 2, 0.75}[i] {
			t.Errorf("clip %d length changed to %v", i, l)
		}
	}
}

func TestCompositeSingleClipIsIdentity(t *testing.T) {
	g := NewGraph()
	in := g.NewLabel()
	plan := PlanTransitions([]float64{4}, "fade")

	out, err := Composite(g, []Label{in}, plan, "fade")
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}
	if out != in {
		t.Errorf("expected %s, got %s", in, out)
	}
	if len(g.Nodes()) != 0 {
		t.Errorf("identity must not add nodes, got %d", len(g.Nodes()))
	}
}

func TestCompositeCut(t *testing.T) {
	g := NewGraph()
	streams := []Label{g.NewLabel(), g.NewLabel(), g.NewLabel()}
	plan := PlanTransitions([]float64{1, 2, 3}, clips.TransitionCut)

	out, err := Composite(g, streams, plan, clips.TransitionCut)
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}
	want := "[s0][s1][s2]concat=n=3:v=1:a=0[" + string(out) + "]"
	if got := g.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestCompositeXfadeChain(t *testing.T) {
	g := NewGraph()
	streams := []Label{g.NewLabel(), g.NewLabel(), g.NewLabel()}
	plan := PlanTransitions([]float64{2, 3, 1.5}, "fade")

	out, err := Composite(g, streams, plan, "fade")
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}

	nodes := g.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("expected 2 xfade nodes, got %d", len(nodes))
	}
	if got := nodes[0].String(); got != "[s0][s1]xfade=transition=fade:duration=0.500:offset=1.500[s3]" {
		t.Errorf("unexpected first xfade %q", got)
	}
	// chained, not a tree: the second xfade reads the first one's output
	if nodes[1].Inputs[0] != nodes[0].Outputs[0] || nodes[1].Inputs[1] != streams[2] {
		t.Errorf("second xfade inputs %v are not chained", nodes[1].Inputs)
	}
	if !strings.Contains(nodes[1].String(), "offset=4.500") {
		t.Errorf("expected offset 4.500 in %q", nodes[1].String())
	}
	if out != nodes[1].Outputs[0] {
		t.Errorf("expected final xfade output, got %s", out)
	}
}

func TestCompileZeroRegionsMatchesFullRegion(t *testing.T) {
	img := testImage("a")
	implicit := testTimeline([]*clips.SourceImage{img}, 3)
	explicit := testTimeline([]*clips.SourceImage{img}, 3)
	explicit.Clips[0].Regions = []clips.CropRegion{clips.FullRegion(img)}

	for _, anim := range []clips.Animation{clips.AnimationNone, clips.AnimationZoom, clips.AnimationPan} {
		settings := testSettings("fade")
		settings.Animation = anim
		a, err := NewAssembler(zerolog.Nop(), settings, Encoding{})
		if err != nil {
			t.Fatal(err)
		}

		c1, err := a.Assemble(implicit, timeline.Dedupe(implicit.Clips))
		if err != nil {
			t.Fatalf("%s: Assemble failed: %v", anim, err)
		}
		c2, err := a.Assemble(explicit, timeline.Dedupe(explicit.Clips))
		if err != nil {
			t.Fatalf("%s: Assemble failed: %v", anim, err)
		}
		if strings.Join(c1.Args(), " ") != strings.Join(c2.Args(), " ") {
			t.Errorf("%s: implicit and explicit full regions differ:\n%s\n%s", anim, c1, c2)
		}
		if strings.Contains(c1.Graph.String(), "crop=") {
			t.Errorf("%s: full region must not crop: %s", anim, c1.Graph)
		}
	}
}

func TestCompileSplitsSharedImage(t *testing.T) {
	a, b := testImage("a"), testImage("b")
	tl := testTimeline([]*clips.SourceImage{a, b, a}, 1, 1, 1)
	tl.Clips[2].Regions = []clips.CropRegion{
		clips.NewCropRegion(0, 0, 400, 600),
		clips.NewCropRegion(400, 600, 400, 600),
	}

	c, err := NewCompiler(zerolog.Nop(), testSettings(clips.TransitionCut))
	if err != nil {
		t.Fatal(err)
	}
	g := NewGraph()
	outs, err := c.Compile(g, tl, timeline.Dedupe(tl.Clips), tl.Durations())
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(outs) != 3 {
		t.Fatalf("expected 3 clip outputs, got %d", len(outs))
	}

	graph := g.String()
	if !strings.Contains(graph, "[0:v]split=3") {
		t.Errorf("image a is used by 3 regions and must be split 3 ways: %s", graph)
	}
	if strings.Contains(graph, "[1:v]split") {
		t.Errorf("image b is used once and must not be split: %s", graph)
	}
	if !strings.Contains(graph, "hstack=inputs=2") {
		t.Errorf("two regions must be stacked: %s", graph)
	}
	if !strings.Contains(graph, "crop=400:600:400:600") {
		t.Errorf("expected crop of the second region: %s", graph)
	}

	// every label is produced exactly once and consumed exactly once
	produced := map[Label]int{}
	consumed := map[Label]int{}
	for _, n := range g.Nodes() {
		for _, l := range n.Outputs {
			produced[l]++
		}
		for _, l := range n.Inputs {
			consumed[l]++
		}
	}
	for l, n := range produced {
		if n != 1 {
			t.Errorf("label %s produced %d times", l, n)
		}
	}
	for l, n := range consumed {
		if n != 1 {
			t.Errorf("label %s consumed %d times", l, n)
		}
	}
}

func TestCompileRejectsInvalidRegion(t *testing.T) {
	img := testImage("a")
	tl := testTimeline([]*clips.SourceImage{img}, 2)
	tl.Clips[0].Regions = []clips.CropRegion{clips.NewCropRegion(700, 0, 200, 100)}

	c, err := NewCompiler(zerolog.Nop(), testSettings("fade"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Compile(NewGraph(), tl, timeline.Dedupe(tl.Clips), tl.Durations()); err == nil {
		t.Error("expected out-of-bounds region to be rejected")
	}
}

func TestCompileFrameCountAndTrim(t *testing.T) {
	img := testImage("a")
	tl := testTimeline([]*clips.SourceImage{img}, 1.01)

	c, err := NewCompiler(zerolog.Nop(), testSettings("fade"))
	if err != nil {
		t.Fatal(err)
	}
	g := NewGraph()
	if _, err := c.Compile(g, tl, timeline.Dedupe(tl.Clips), tl.Durations()); err != nil {
		t.Fatal(err)
	}
	graph := g.String()
	// ceil(1.01 * 30) = 31
	if !strings.Contains(graph, "min(on/31,1)") {
		t.Errorf("expected zoom driven by clip-local frame count 31: %s", graph)
	}
	if !strings.Contains(graph, "trim=duration=1.010,setpts=PTS-STARTPTS") {
		t.Errorf("expected trim to clip length and timestamp reset: %s", graph)
	}
	// 800x1200 at canvas height 720 -> 480 wide
	if !strings.Contains(graph, "s=480x720") {
		t.Errorf("expected sub-stream size 480x720: %s", graph)
	}
}

func TestCanonicalLabel(t *testing.T) {
	cases := map[string]string{
		"s3":       "[s3]",
		"[s3]":     "[s3]",
		"[[s3]]":   "[s3]",
		" [vout] ": "[vout]",
		"1:a":      "1:a",
		"[1:a]":    "1:a",
		"0":        "0",
	}
	for in, want := range cases {
		if got := MapArg(in); got != want {
			t.Errorf("MapArg(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAssembleCommand(t *testing.T) {
	a, b := testImage("a"), testImage("b")
	b.MimeType = "image/jpeg"
	tl := testTimeline([]*clips.SourceImage{a, b, a}, 2, 3, 1.5)

	asm, err := NewAssembler(zerolog.Nop(), testSettings("fade"), Encoding{Preset: "ultrafast", CRF: 28})
	if err != nil {
		t.Fatal(err)
	}
	cmd, err := asm.Assemble(tl, timeline.Dedupe(tl.Clips))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	args := cmd.Args()
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-loop 1 -framerate 30 -i input_0.png",
		"-loop 1 -framerate 30 -i input_1.jpg",
		"-i narration.wav",
		"-map 2:a",
		"-c:v libx264 -preset ultrafast -crf 28",
		"-t 6.500",
		"-movflags +faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in %s", want, joined)
		}
	}
	if args[len(args)-1] != OutputName {
		t.Errorf("expected output last, got %s", args[len(args)-1])
	}

	var videoMap string
	for i, arg := range args {
		if arg == "-map" && strings.HasPrefix(args[i+1], "[") {
			videoMap = args[i+1]
		}
	}
	final := cmd.Graph.Nodes()[len(cmd.Graph.Nodes())-1].Outputs[0]
	if videoMap != final.String() {
		t.Errorf("video map %q does not select the final stream %s", videoMap, final)
	}
}

func TestAssembleRejectsBrokenTimeline(t *testing.T) {
	tl := testTimeline([]*clips.SourceImage{testImage("a")}, 2, 2)
	tl.TotalDuration = 5

	asm, err := NewAssembler(zerolog.Nop(), testSettings("fade"), Encoding{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := asm.Assemble(tl, timeline.Dedupe(tl.Clips)); err == nil {
		t.Error("expected error for durations that do not sum to the total")
	}
}

func TestStreamOutputProgress(t *testing.T) {
	e := &Executor{logger: zerolog.Nop()}
	input := strings.Join([]string{
		"Input #0, png_pipe, from 'input_0.png':",
		"frame=30",
		"fps=29.5",
		"bitrate=N/A",
		"out_time=00:00:01.000000",
		"speed=1.2x",
		"progress=continue",
		"frame=60",
		"out_time=00:00:02.000000",
		"progress=end",
	}, "\n")

	var pcts []float64
	var logs []string
	opts := RunOptions{
		TotalDuration:   4,
		ProgressHandler: func(p *Progress) { pcts = append(pcts, p.Percentage) },
		LogHandler:      func(line string) { logs = append(logs, line) },
	}
	tail := &logTail{}
	e.streamOutput(strings.NewReader(input), opts, tail)

	if len(pcts) != 2 || !approx(pcts[0], 25) || pcts[1] != 100 {
		t.Errorf("expected progress [25 100], got %v", pcts)
	}
	if len(logs) != 1 || !strings.HasPrefix(logs[0], "Input #0") {
		t.Errorf("expected only the non-progress line as log, got %v", logs)
	}
	if !strings.Contains(tail.String(), "Input #0") {
		t.Errorf("expected tail to keep log output, got %q", tail.String())
	}
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{"streams":[{"codec_type":"audio","codec_name":"pcm_s16le","sample_rate":"24000","channels":1,"duration":"3.250000"}],"format":{"duration":"3.250000"}}`)
	info, err := parseProbe("narration.wav", out)
	if err != nil {
		t.Fatalf("parseProbe failed: %v", err)
	}
	if info.Duration != 3.25 || info.SampleRate != 24000 || info.Channels != 1 {
		t.Errorf("unexpected info %+v", info)
	}

	if _, err := parseProbe("x.mp4", []byte(`{"streams":[{"codec_type":"video"}],"format":{}}`)); err == nil {
		t.Error("expected error without an audio stream")
	}
}

func TestRunDeadlineIsNotEncoderFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a shell script as the encoder binary")
	}
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 5\n"), 0755); err != nil {
		t.Fatal(err)
	}
	executor, err := New(zerolog.Nop(), bin, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = executor.Run(ctx, RunOptions{Args: []string{"-i", "in.png", "out.mp4"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if errors.Is(err, ErrEncoder) {
		t.Error("a timed out run must not be reported as an encoder failure")
	}
}
