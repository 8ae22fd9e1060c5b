package roomtalk

import (
	"context"
	"sync"

	"github.com/roomtalk/roomtalk-go/roomtalk/rest"
)

// imageResolver fetches image assets referenced by timeline events. Fetches
// run concurrently with no ordering guarantee; each one calls back into the
// timeline with its own sequence key, never a positional index.
type imageResolver struct {
	rest     *rest.Client
	timeline *Timeline
	logger   Logger
	onError  func(error)

	wg sync.WaitGroup
}

func newImageResolver(rc *rest.Client, tl *Timeline, logger Logger) *imageResolver {
	return &imageResolver{rest: rc, timeline: tl, logger: logger}
}

// resolve fetches the asset for one image event in the background. A single
// attempt is made; on failure the event stays caption-only so the UI renders
// a fallback instead of a spinner. Session close cancels ctx, which is an
// ordinary early exit, not an error.
func (r *imageResolver) resolve(ctx context.Context, key SequenceKey, ref string) {
	if ref == "" {
		r.logger.Debug("image event without reference, leaving caption-only", nil)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		data, err := r.rest.FetchImage(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("image resolve failed", map[string]any{
				"ref":   ref,
				"error": err.Error(),
			})
			if r.onError != nil {
				r.onError(WrapError(ErrorImageResolve, "fetch image "+ref, err))
			}
			return
		}
		r.timeline.ResolveImage(key, data)
	}()
}

// wait blocks until all in-flight resolutions have finished or been
// cancelled.
func (r *imageResolver) wait() {
	r.wg.Wait()
}
