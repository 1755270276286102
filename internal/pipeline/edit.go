package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/keagan/panelreel/internal/cache"
	"github.com/keagan/panelreel/internal/clips"
	"golang.org/x/sync/errgroup"
)

// editResult is what one panel image turns into after editing. It is also
// the cached form.
type editResult struct {
	MimeType string             `json:"mimeType"`
	Data     []byte             `json:"data"`
	Regions  []clips.CropRegion `json:"regions"`
}

// edit runs text removal and subject detection once per distinct image,
// with at most Workers images in flight, and applies the result to every
// panel showing that image.
func (p *Pipeline) edit(ctx context.Context, project *Project, opts Options) error {
	if p.services.Editor == nil {
		return fmt.Errorf("no panel editor configured")
	}

	var unique []*clips.SourceImage
	seen := make(map[string]bool)
	for _, panel := range project.Panels {
		if !seen[panel.Image.ID] {
			seen[panel.Image.ID] = true
			unique = append(unique, panel.Image)
		}
	}

	var mu sync.Mutex
	results := make(map[string]editResult, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for _, img := range unique {
		g.Go(func() error {
			res, err := p.editImage(gctx, img, opts)
			if err != nil {
				return fmt.Errorf("panel image %s: %w", img.ID, err)
			}
			mu.Lock()
			results[img.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	edited := make(map[string]*clips.SourceImage, len(unique))
	for _, img := range unique {
		res := results[img.ID]
		out := img
		if opts.RemoveText {
			next, err := img.WithData(res.MimeType, res.Data)
			if err != nil {
				return fmt.Errorf("panel image %s: %w", img.ID, err)
			}
			out = next
		}
		edited[img.ID] = out
	}

	for i := range project.Panels {
		id := project.Panels[i].Image.ID
		project.Panels[i].Image = edited[id]
		if opts.DetectSubjects {
			project.Panels[i].Regions = freshRegions(results[id].Regions)
		}
	}
	project.Edited = true

	p.logger.Info().
		Int("panels", len(project.Panels)).
		Int("images", len(unique)).
		Bool("remove_text", opts.RemoveText).
		Bool("detect_subjects", opts.DetectSubjects).
		Msg("panels edited")
	return nil
}

func (p *Pipeline) editImage(ctx context.Context, img *clips.SourceImage, opts Options) (editResult, error) {
	key := cache.Key(fmt.Sprintf("edit-%t-%t", opts.RemoveText, opts.DetectSubjects), img.Data)
	if res, ok := p.cachedEdit(ctx, key); ok {
		p.logger.Debug().Str("image", img.ID).Msg("edit cache hit")
		return res, nil
	}

	res := editResult{MimeType: img.MimeType, Data: img.Data}
	current := img
	if opts.RemoveText {
		cleaned, err := p.services.Editor.RemoveText(ctx, img)
		if err != nil {
			return res, err
		}
		current = cleaned
		res.MimeType = cleaned.MimeType
		res.Data = cleaned.Data
	}
	if opts.DetectSubjects {
		regions, err := p.services.Editor.DetectSubjects(ctx, current)
		if err != nil {
			return res, err
		}
		res.Regions = regions
	}

	if p.services.Cache != nil {
		if data, err := json.Marshal(res); err == nil {
			if err := p.services.Cache.Set(ctx, key, data); err != nil {
				p.logger.Warn().Err(err).Msg("failed to cache edit result")
			}
		}
	}
	return res, nil
}

func (p *Pipeline) cachedEdit(ctx context.Context, key string) (editResult, bool) {
	if p.services.Cache == nil {
		return editResult{}, false
	}
	data, ok, err := p.services.Cache.Get(ctx, key)
	if err != nil {
		p.logger.Warn().Err(err).Msg("edit cache lookup failed")
		return editResult{}, false
	}
	if !ok {
		return editResult{}, false
	}
	var res editResult
	if err := json.Unmarshal(data, &res); err != nil {
		p.logger.Warn().Err(err).Msg("discarding unreadable cached edit")
		return editResult{}, false
	}
	return res, true
}

// freshRegions copies regions with new ids so panels never share them.
func freshRegions(regions []clips.CropRegion) []clips.CropRegion {
	out := make([]clips.CropRegion, len(regions))
	for i, r := range regions {
		out[i] = clips.NewCropRegion(r.X, r.Y, r.Width, r.Height)
	}
	return out
}
