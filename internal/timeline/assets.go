package timeline

import "github.com/keagan/panelreel/internal/clips"

// Assets is the set of distinct source images a timeline references, with
// the encoder input slot each one is bound to.
type Assets struct {
	Images []*clips.SourceImage
	Slots  map[string]int
}

// Slot returns the input slot of an image.
func (a Assets) Slot(img *clips.SourceImage) (int, bool) {
	slot, ok := a.Slots[img.ID]
	return slot, ok
}

// Dedupe collects the images referenced by the clips in first-occurrence
// order and numbers them from 0. The same clip sequence always yields the
// same slots.
func Dedupe(timelineClips []clips.Clip) Assets {
	assets := Assets{Slots: make(map[string]int)}
	for _, c := range timelineClips {
		if c.Image == nil {
			continue
		}
		if _, seen := assets.Slots[c.Image.ID]; seen {
			continue
		}
		assets.Slots[c.Image.ID] = len(assets.Images)
		assets.Images = append(assets.Images, c.Image)
	}
	return assets
}
