package jobs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mkang/shadowclip/internal/clip"
	"github.com/mkang/shadowclip/internal/concat"
	"github.com/mkang/shadowclip/pkg/log"
)

// renderBatch renders each segment as its own merged clip, then concatenates
// them into one lesson file. A preview study clip goes first and a review
// study clip last when the request names their templates. Checkpoint resume
// does not cross segment boundaries; an interrupted batch restarts.
func (r *ClipRenderer) renderBatch(ctx context.Context, job *Job, factory *clip.Factory,
	merger *concat.Engine, scratch string, srcDur float64, report ProgressFunc) (string, error) {
	req := job.Request
	segCount := len(req.Segments)

	def, err := r.templates.Lookup(req.TemplateID)
	if err != nil {
		return "", classify(err, -1)
	}

	outDir, err := r.ensureOutputDir(job)
	if err != nil {
		return "", err
	}

	var lessonParts []string
	completed := 0

	if req.PreviewTemplate > 0 {
		path, err := r.renderStudyClip(ctx, job, factory, merger, scratch, srcDur,
			req.PreviewTemplate, req.Segments[0], "preview")
		if err != nil {
			return "", err
		}
		lessonParts = append(lessonParts, path)
	}

	for si, seg := range req.Segments {
		segReq := req
		segReq.Start, segReq.End, segReq.Record = seg.Start, seg.End, seg.Record

		clips, layout, err := r.renderSegment(ctx, factory, segReq, seg, srcDur, 0, nil,
			func(done []string, total int) {
				completed++
				report(segmentProgress(si, segCount, len(done), total), completed)
			})
		if err != nil {
			return "", err
		}

		segOut := filepath.Join(scratch, segmentClipName(seg.Start))
		if err := merger.Merge(ctx, clips, segOut, concat.Options{Layout: layout}); err != nil {
			return "", classify(err, -1)
		}

		// Per-segment clips are part of the deliverable, not scratch.
		if err := copyFile(segOut, filepath.Join(outDir, filepath.Base(segOut))); err != nil {
			log.Warn("failed to retain segment clip %s: %v", filepath.Base(segOut), err)
		}
		lessonParts = append(lessonParts, segOut)
	}

	if req.ReviewTemplate > 0 {
		path, err := r.renderStudyClip(ctx, job, factory, merger, scratch, srcDur,
			req.ReviewTemplate, req.Segments[segCount-1], "review")
		if err != nil {
			return "", err
		}
		lessonParts = append(lessonParts, path)
	}

	merged := filepath.Join(scratch, "batch_merged.mp4")
	opts := concat.Options{Title1: req.Title1, Title2: req.Title2, Layout: def.Layout}
	if err := merger.Merge(ctx, lessonParts, merged, opts); err != nil {
		return "", classify(err, -1)
	}
	report(95, completed)

	final := filepath.Join(outDir, outputName(req.TemplateID, true))
	if err := moveFile(merged, final); err != nil {
		return "", &JobError{Kind: ErrToolFailed, PrimitiveIndex: -1,
			Detail: fmt.Sprintf("move batch output: %v", err)}
	}
	return final, nil
}

// segmentProgress maps a segment's primitive completion onto the 90-point
// render phase. Spans are derived per segment from the boundary positions so
// progress keeps advancing when segments outnumber the points.
func segmentProgress(si, segCount, done, total int) int {
	base := si * 90 / segCount
	next := (si + 1) * 90 / segCount
	return base + done*(next-base)/total
}

// renderStudyClip expands a study template over one segment and merges its
// primitives into a single named clip.
func (r *ClipRenderer) renderStudyClip(ctx context.Context, job *Job, factory *clip.Factory,
	merger *concat.Engine, scratch string, srcDur float64, templateID int,
	seg Segment, name string) (string, error) {
	studyReq := job.Request
	studyReq.TemplateID = templateID
	studyReq.Start, studyReq.End, studyReq.Record = seg.Start, seg.End, seg.Record

	clips, layout, err := r.renderSegment(ctx, factory, studyReq, seg, srcDur, 0, nil,
		func([]string, int) {})
	if err != nil {
		return "", err
	}

	out := filepath.Join(scratch, name+".mp4")
	if err := merger.Merge(ctx, clips, out, concat.Options{Layout: layout}); err != nil {
		return "", classify(err, -1)
	}
	return out, nil
}
