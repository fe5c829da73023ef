package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vidtube/internal/metrics"
	"vidtube/internal/objectstore"
	"vidtube/internal/retry"
	"vidtube/internal/store"
	"vidtube/internal/util"
)

type VideoStore interface {
	GetOwnedVideo(ctx context.Context, videoID, userID string) (store.Video, error)
	UpdateVideo(ctx context.Context, videoID, userID string, update store.VideoUpdate) (store.Video, error)
	SetVideoThumbnail(ctx context.Context, videoID, userID string, url, key *string) (store.Video, error)
}

type Transcripts interface {
	FetchTranscript(ctx context.Context, playbackID, trackID string) (string, error)
}

type Generator interface {
	GenerateTitle(ctx context.Context, transcript string) (string, error)
	GenerateDescription(ctx context.Context, transcript string) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

type Objects interface {
	CopyFromURL(ctx context.Context, src, keyPrefix string) (objectstore.Object, error)
	Remove(ctx context.Context, key string) error
}

type Deps struct {
	Videos      VideoStore
	Transcripts Transcripts
	Generator   Generator
	Objects     Objects
	Memo        Memo
	Metrics     *metrics.Metrics
	// OnVideoUpdated runs after the final step changes a video.
	OnVideoUpdated func(ctx context.Context, video store.Video)
}

// memoryMemoTTL bounds how long an in-process memo keeps a run that was
// never finished or abandoned, such as one interrupted by a crash.
const memoryMemoTTL = 6 * time.Hour

type Engine struct {
	deps   Deps
	logger *slog.Logger
}

func NewEngine(deps Deps) *Engine {
	if deps.Memo == nil {
		deps.Memo = NewMemoryMemo(memoryMemoTTL)
	}
	return &Engine{deps: deps, logger: slog.Default().With("component", "workflow")}
}

// run is the per-execution state handed to steps.
type run struct {
	engine  *Engine
	payload Payload
}

// step returns the memoized result of name for this run, or runs fn and
// records its result.
func step[T any](ctx context.Context, r *run, name string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	cached, ok, err := r.engine.deps.Memo.Load(ctx, r.payload.RunID, name)
	if err != nil {
		return out, retry.Transient(err)
	}
	if ok {
		if err := json.Unmarshal(cached, &out); err == nil {
			r.engine.deps.Metrics.ObserveWorkflowStep(r.payload.Workflow, name, true)
			return out, nil
		}
		r.engine.logger.Warn("discarding unreadable step result", "run_id", r.payload.RunID, "step", name)
	}

	out, err = fn(ctx)
	if err != nil {
		return out, fmt.Errorf("step %s: %w", name, err)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return out, retry.Fatal(fmt.Errorf("step %s: encode result: %w", name, err))
	}
	if err := r.engine.deps.Memo.Save(ctx, r.payload.RunID, name, data); err != nil {
		return out, retry.Transient(err)
	}
	r.engine.deps.Metrics.ObserveWorkflowStep(r.payload.Workflow, name, false)
	return out, nil
}

// Execute runs payload to completion. Returned errors are classified with the
// retry package so queues know whether to redeliver.
func (e *Engine) Execute(ctx context.Context, payload Payload) error {
	if err := payload.Validate(); err != nil {
		e.deps.Metrics.ObserveWorkflowRun(payload.Workflow, "rejected")
		return err
	}
	r := &run{engine: e, payload: payload}
	logger := e.logger.With("workflow", payload.Workflow, "run_id", payload.RunID, "video_id", payload.VideoID)
	logger.Info("workflow started")

	var err error
	switch payload.Workflow {
	case Title:
		err = e.textWorkflow(ctx, r, "generate-title", e.deps.Generator.GenerateTitle, func(v store.Video, text string) store.VideoUpdate {
			if text == "" {
				text = v.Title
			}
			return store.VideoUpdate{Title: &text}
		})
	case Description:
		err = e.textWorkflow(ctx, r, "generate-description", e.deps.Generator.GenerateDescription, func(v store.Video, text string) store.VideoUpdate {
			if text == "" && v.Description != nil {
				text = *v.Description
			}
			return store.VideoUpdate{Description: &text}
		})
	case Thumbnail:
		err = e.thumbnailWorkflow(ctx, r)
	}

	if err != nil {
		outcome := "retry"
		if retry.IsFatal(err) {
			outcome = "failed"
			e.Abandon(ctx, payload.RunID)
		}
		e.deps.Metrics.ObserveWorkflowRun(payload.Workflow, outcome)
		logger.Warn("workflow failed", "error", err, "fatal", retry.IsFatal(err))
		return err
	}
	e.Abandon(ctx, payload.RunID)
	e.deps.Metrics.ObserveWorkflowRun(payload.Workflow, "succeeded")
	logger.Info("workflow finished")
	return nil
}

// Abandon drops the memoized steps of a run that will not be executed again.
func (e *Engine) Abandon(ctx context.Context, runID string) {
	if err := e.deps.Memo.Forget(context.WithoutCancel(ctx), runID); err != nil {
		e.logger.Warn("failed to forget workflow run", "run_id", runID, "error", err)
	}
}

func (e *Engine) getVideo(ctx context.Context, r *run) (store.Video, error) {
	return step(ctx, r, "get-video", func(ctx context.Context) (store.Video, error) {
		video, err := e.deps.Videos.GetOwnedVideo(ctx, r.payload.VideoID, r.payload.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Video{}, retry.Fatal(errors.New("video not found"))
		}
		return video, err
	})
}

func (e *Engine) textWorkflow(
	ctx context.Context,
	r *run,
	generateStep string,
	generate func(context.Context, string) (string, error),
	update func(store.Video, string) store.VideoUpdate,
) error {
	video, err := e.getVideo(ctx, r)
	if err != nil {
		return err
	}

	transcript, err := step(ctx, r, "get-transcript", func(ctx context.Context) (string, error) {
		return e.deps.Transcripts.FetchTranscript(ctx, deref(video.MuxPlaybackID), deref(video.MuxTrackID))
	})
	if err != nil {
		return err
	}

	text, err := step(ctx, r, generateStep, func(ctx context.Context) (string, error) {
		return generate(ctx, transcript)
	})
	if err != nil {
		return err
	}

	updated, err := step(ctx, r, "update-video", func(ctx context.Context) (store.Video, error) {
		return e.deps.Videos.UpdateVideo(ctx, video.ID, video.UserID, update(video, text))
	})
	if err != nil {
		return notFoundIsFatal(err)
	}
	e.videoUpdated(ctx, updated)
	return nil
}

func (e *Engine) thumbnailWorkflow(ctx context.Context, r *run) error {
	video, err := e.getVideo(ctx, r)
	if err != nil {
		return err
	}

	imageURL, err := step(ctx, r, "generate-thumbnail", func(ctx context.Context) (string, error) {
		return e.deps.Generator.GenerateImage(ctx, r.payload.Prompt)
	})
	if err != nil {
		return err
	}

	if _, err := step(ctx, r, "cleanup-thumbnail", func(ctx context.Context) (bool, error) {
		if video.ThumbnailKey == nil {
			return false, nil
		}
		if err := e.deps.Objects.Remove(ctx, *video.ThumbnailKey); err != nil {
			return false, retry.Transient(err)
		}
		return true, nil
	}); err != nil {
		return err
	}

	object, err := step(ctx, r, "upload-thumbnail", func(ctx context.Context) (objectstore.Object, error) {
		obj, err := e.deps.Objects.CopyFromURL(ctx, imageURL, ThumbnailKeyPrefix(video.ID))
		if err != nil {
			return objectstore.Object{}, retry.Transient(err)
		}
		return obj, nil
	})
	if err != nil {
		return err
	}

	updated, err := step(ctx, r, "update-video", func(ctx context.Context) (store.Video, error) {
		return e.deps.Videos.SetVideoThumbnail(ctx, video.ID, video.UserID, &object.URL, &object.Key)
	})
	if err != nil {
		return notFoundIsFatal(err)
	}
	e.videoUpdated(ctx, updated)
	return nil
}

// ThumbnailKeyPrefix is where stored thumbnails of videoID live. Every upload
// gets a fresh suffix.
func ThumbnailKeyPrefix(videoID string) string {
	return "videos/" + videoID + "/thumbnail-" + util.NewID()
}

func (e *Engine) videoUpdated(ctx context.Context, video store.Video) {
	if e.deps.OnVideoUpdated != nil {
		e.deps.OnVideoUpdated(ctx, video)
	}
}

// notFoundIsFatal stops redelivery when the video was deleted mid-run.
func notFoundIsFatal(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return retry.Fatal(err)
	}
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
