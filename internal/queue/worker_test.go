package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/keagan/panelreel/internal/audio"
	"github.com/keagan/panelreel/internal/clips"
	"github.com/keagan/panelreel/internal/ffmpeg"
	"github.com/keagan/panelreel/internal/video"
	"github.com/rs/zerolog"
)

type memStore struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Key(name string) string { return "renders/" + name }

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, "", errors.New("not found")
	}
	return data, m.types[key], nil
}

func (m *memStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

type fakeRenderer struct {
	req   video.Request
	calls int
	fail  error
}

func (f *fakeRenderer) Render(ctx context.Context, req video.Request, cb video.Callbacks) ([]byte, error) {
	f.calls++
	f.req = req
	if f.fail != nil {
		return nil, f.fail
	}
	return []byte("mp4"), nil
}

func seedStore(t *testing.T) *memStore {
	t.Helper()
	store := newMemStore()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 50, 80))); err != nil {
		t.Fatal(err)
	}
	store.Put(context.Background(), "in/1.png", buf.Bytes(), "image/png")
	store.Put(context.Background(), "in/2.png", buf.Bytes(), "image/png")

	format := audio.SpeechFormat()
	wav, err := audio.EncodeWAV(make([]byte, 3*format.SampleRate*2), format)
	if err != nil {
		t.Fatal(err)
	}
	store.Put(context.Background(), "in/narration.wav", wav, "audio/wav")
	return store
}

func testJob() RenderRequest {
	return RenderRequest{
		ID: "job-1",
		Panels: []PanelRef{
			{Key: "in/1.png"},
			{Key: "in/2.png", Regions: []clips.CropRegion{{X: 0, Y: 0, Width: 25, Height: 40}}},
		},
		AudioKey: "in/narration.wav",
		Timings:  []clips.PanelTiming{{Panel: 1, StartTime: 0}, {Panel: 2, StartTime: 1}},
	}
}

func TestWorkerStoresVideo(t *testing.T) {
	store := seedStore(t)
	renderer := &fakeRenderer{}
	w := NewWorker(zerolog.Nop(), store, renderer, clips.DefaultSettings(), ffmpeg.Encoding{})

	msg, _ := json.Marshal(testJob())
	mark, err := w.HandleMessage(context.Background(), msg)
	if err != nil || !mark {
		t.Fatalf("expected success, got mark=%v err=%v", mark, err)
	}

	key := "renders/job-1/" + ffmpeg.DownloadName
	if string(store.objects[key]) != "mp4" || store.types[key] != "video/mp4" {
		t.Errorf("video not stored under %s", key)
	}

	tl := renderer.req.Timeline
	if len(tl.Clips) != 2 || tl.Clips[1].Duration < 1.99 || tl.Clips[1].Duration > 2.01 {
		t.Errorf("unexpected timeline %+v", tl)
	}
	if len(tl.Clips[1].Regions) != 1 || tl.Clips[1].Regions[0].ID == "" {
		t.Errorf("expected region with a fresh id, got %+v", tl.Clips[1].Regions)
	}
}

func TestWorkerSkipsBadMessages(t *testing.T) {
	renderer := &fakeRenderer{}
	w := NewWorker(zerolog.Nop(), newMemStore(), renderer, clips.DefaultSettings(), ffmpeg.Encoding{})

	for _, msg := range []string{`garbage`, `{"id":"x","panels":[]}`} {
		mark, err := w.HandleMessage(context.Background(), []byte(msg))
		if err != nil || !mark {
			t.Errorf("%s: expected mark without error, got mark=%v err=%v", msg, mark, err)
		}
	}
	if renderer.calls != 0 {
		t.Error("renderer should not run for invalid requests")
	}
}

func TestWorkerFailureIsNotRetried(t *testing.T) {
	store := seedStore(t)
	renderer := &fakeRenderer{fail: ffmpeg.ErrEncoder}
	w := NewWorker(zerolog.Nop(), store, renderer, clips.DefaultSettings(), ffmpeg.Encoding{})

	msg, _ := json.Marshal(testJob())
	mark, err := w.HandleMessage(context.Background(), msg)
	if !errors.Is(err, ffmpeg.ErrEncoder) {
		t.Errorf("expected encoder error, got %v", err)
	}
	if !mark {
		t.Error("failed jobs are marked, not redelivered")
	}
}

func TestWorkerCancelledLeavesMessage(t *testing.T) {
	store := seedStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	renderer := &fakeRenderer{fail: context.Canceled}
	w := NewWorker(zerolog.Nop(), store, renderer, clips.DefaultSettings(), ffmpeg.Encoding{})

	msg, _ := json.Marshal(testJob())
	mark, err := w.HandleMessage(ctx, msg)
	if err == nil || mark {
		t.Errorf("expected unmarked error on cancellation, got mark=%v err=%v", mark, err)
	}
}

func TestWorkerMissingObject(t *testing.T) {
	w := NewWorker(zerolog.Nop(), newMemStore(), &fakeRenderer{}, clips.DefaultSettings(), ffmpeg.Encoding{})
	job := testJob()
	if _, err := w.Process(context.Background(), &job); err == nil {
		t.Error("expected error for missing panel object")
	}
}

func TestWorkerSkipsStoredVideo(t *testing.T) {
	store := seedStore(t)
	store.Put(context.Background(), "renders/job-1/"+ffmpeg.DownloadName, []byte("old"), "video/mp4")
	renderer := &fakeRenderer{}
	w := NewWorker(zerolog.Nop(), store, renderer, clips.DefaultSettings(), ffmpeg.Encoding{})

	job := testJob()
	key, err := w.Process(context.Background(), &job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if renderer.calls != 0 {
		t.Error("stored video should not be rendered again")
	}
	if string(store.objects[key]) != "old" {
		t.Error("stored video must not be replaced")
	}
}
