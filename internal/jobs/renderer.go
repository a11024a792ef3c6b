package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mkang/shadowclip/internal/clip"
	"github.com/mkang/shadowclip/internal/concat"
	"github.com/mkang/shadowclip/internal/ffmpeg"
	"github.com/mkang/shadowclip/internal/subtitle"
	"github.com/mkang/shadowclip/internal/template"
	"github.com/mkang/shadowclip/internal/tts"
	"github.com/mkang/shadowclip/pkg/log"
)

const (
	defaultPaddingBefore = 0.5
	defaultPaddingAfter  = 0.5

	// checkpointEvery is how many completed primitives trigger a resume
	// manifest write.
	checkpointEvery = 5

	clipManifestName = "clips.json"
)

// Driver is the full media tool surface the renderer needs.
type Driver interface {
	Run(ctx context.Context, args []string) (ffmpeg.Result, error)
	Duration(ctx context.Context, path string) (float64, error)
	Inspect(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
}

// ClipRenderer produces one job's final MP4. Each job runs sequentially in a
// private scratch directory; only the coordinator introduces parallelism.
type ClipRenderer struct {
	drv         Driver
	synth       tts.Synthesizer
	templates   *template.Engine
	monitor     *ResourceMonitor
	scratchRoot string
	outputRoot  string
	resume      bool

	// probes collapses concurrent duration lookups of the same source file.
	probes singleflight.Group
}

// NewClipRenderer wires the rendering pipeline. synth may be nil when no TTS
// command is configured; monitor may be nil to disable resource gating.
func NewClipRenderer(drv Driver, synth tts.Synthesizer, templates *template.Engine,
	monitor *ResourceMonitor, scratchRoot, outputRoot string, resume bool) *ClipRenderer {
	return &ClipRenderer{
		drv:         drv,
		synth:       synth,
		templates:   templates,
		monitor:     monitor,
		scratchRoot: scratchRoot,
		outputRoot:  outputRoot,
		resume:      resume,
	}
}

// Render runs the job end to end and returns the final output path. Scratch
// is removed on every terminal outcome; only a process crash leaves it for
// checkpoint resume.
func (r *ClipRenderer) Render(ctx context.Context, job *Job, report ProgressFunc) (string, error) {
	req := job.Request
	scratch := filepath.Join(r.scratchRoot, job.ID)
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return "", &JobError{Kind: ErrToolFailed, PrimitiveIndex: -1,
			Detail: fmt.Sprintf("create scratch: %v", err)}
	}
	defer os.RemoveAll(scratch)

	srcDur, err := r.sourceDuration(ctx, req.Source)
	if err != nil {
		return "", classify(err, -1)
	}

	factory := clip.NewFactory(r.drv, r.synth, scratch)
	merger := concat.New(r.drv, scratch)

	if len(req.Segments) > 0 {
		return r.renderBatch(ctx, job, factory, merger, scratch, srcDur, report)
	}
	return r.renderSingle(ctx, job, factory, merger, scratch, srcDur, report)
}

func (r *ClipRenderer) renderSingle(ctx context.Context, job *Job, factory *clip.Factory,
	merger *concat.Engine, scratch string, srcDur float64, report ProgressFunc) (string, error) {
	req := job.Request
	seg := Segment{Start: req.Start, End: req.End, Record: req.Record}

	clips, skip := []string(nil), 0
	if r.resume && job.Checkpoint > 0 {
		clips, skip = r.loadClipManifest(scratch, job.Checkpoint)
		if skip > 0 {
			seedSequence(factory, scratch)
			log.Info("job %s resuming from primitive %d", job.ID, skip)
		}
	}

	clips, layout, err := r.renderSegment(ctx, factory, req, seg, srcDur, skip, clips,
		func(done []string, total int) {
			report(len(done)*90/total, len(done))
			r.maybeWriteClipManifest(scratch, done, len(done))
		})
	if err != nil {
		return "", err
	}

	merged := filepath.Join(scratch, "merged.mp4")
	opts := concat.Options{Title1: req.Title1, Title2: req.Title2, Layout: layout}
	if err := merger.Merge(ctx, clips, merged, opts); err != nil {
		return "", classify(err, -1)
	}
	report(95, len(clips))

	outDir, err := r.ensureOutputDir(job)
	if err != nil {
		return "", err
	}
	if req.KeepClips {
		if err := retainClips(clips, outDir); err != nil {
			log.Warn("failed to retain individual clips for job %s: %v", job.ID, err)
		}
	}

	final := filepath.Join(outDir, outputName(req.TemplateID, false))
	if err := moveFile(merged, final); err != nil {
		return "", &JobError{Kind: ErrToolFailed, PrimitiveIndex: -1,
			Detail: fmt.Sprintf("move output: %v", err)}
	}
	return final, nil
}

// renderSegment expands the template over one segment and materializes its
// primitives in order, appending to clips. skip primitives are assumed
// already present in clips (checkpoint resume).
func (r *ClipRenderer) renderSegment(ctx context.Context, factory *clip.Factory, req Request,
	seg Segment, srcDur float64, skip int, clips []string,
	onClip func(done []string, total int)) ([]string, subtitle.Layout, error) {

	if subtitle.SuspectSwapped(seg.Record) {
		log.Warn("record at %.2fs: english/korean fields look swapped", seg.Record.Start)
	}

	padBefore, padAfter := padding(req)
	start := seg.Start - padBefore
	if start < 0 {
		start = 0
	}
	end := seg.End + padAfter
	if srcDur > 0 && end > srcDur {
		end = srcDur
	}

	def, err := r.templates.Lookup(req.TemplateID)
	if err != nil {
		return nil, "", classify(err, -1)
	}
	prims, err := r.templates.Expand(req.TemplateID, template.Request{
		Source:         req.Source,
		Start:          start,
		End:            end,
		SourceDuration: srcDur,
		Record:         seg.Record,
		Records:        req.Records,
		Fit:            req.Fit,
	})
	if err != nil {
		return nil, "", classify(err, -1)
	}

	pipelines := make(map[string]*subtitle.Pipeline)
	for i, prim := range prims {
		if i < skip {
			continue
		}
		if ctx.Err() != nil {
			return nil, "", &JobError{Kind: ErrCancelled, PrimitiveIndex: i, Detail: "cancelled"}
		}
		if r.monitor != nil {
			if err := r.monitor.Wait(ctx); err != nil {
				// A back-off window that closes without resources freeing is
				// a terminal tool failure, not a transient condition.
				if errors.Is(err, errResourcesExhausted) {
					return nil, "", &JobError{Kind: ErrToolFailed, PrimitiveIndex: i,
						Detail: truncateDetail(fmt.Sprintf("resource wait exceeded: %v", err))}
				}
				return nil, "", classify(err, i)
			}
		}

		path, err := r.renderPrimitive(ctx, factory, prim, def.Layout, pipelines)
		if err != nil {
			return nil, "", classify(err, i)
		}
		clips = append(clips, path)
		onClip(clips, len(prims))
	}
	return clips, def.Layout, nil
}

func (r *ClipRenderer) renderPrimitive(ctx context.Context, factory *clip.Factory,
	prim template.Primitive, layout subtitle.Layout, pipelines map[string]*subtitle.Pipeline) (string, error) {
	switch {
	case prim.Trim != nil:
		step := prim.Trim
		spec := step.Spec
		speed := spec.Speed
		if speed <= 0 {
			speed = 1.0
		}
		clipDuration := (spec.End - spec.Start) / speed

		switch {
		case len(step.Records) > 0:
			script, err := subtitle.ScriptFromRecords(step.Records, layout, spec.Start, clipDuration)
			if err != nil {
				return "", err
			}
			spec.Overlay = &script
		case step.Variant != "":
			pipeline, err := r.pipelineFor(step.Record, layout, pipelines)
			if err != nil {
				return "", err
			}
			script, err := pipeline.Script(step.Variant, clipDuration)
			if err != nil {
				return "", err
			}
			spec.Overlay = &script
		}
		return factory.Trim(ctx, spec)

	case prim.Freeze != nil:
		return factory.Freeze(ctx, *prim.Freeze)

	case prim.ImageTTS != nil:
		return factory.ImageTTS(ctx, *prim.ImageTTS)
	}
	return "", fmt.Errorf("empty primitive")
}

// pipelineFor memoizes subtitle pipelines per record within one job.
func (r *ClipRenderer) pipelineFor(record subtitle.Record, layout subtitle.Layout,
	pipelines map[string]*subtitle.Pipeline) (*subtitle.Pipeline, error) {
	key := fmt.Sprintf("%.3f-%.3f", record.Start, record.End)
	if p, ok := pipelines[key]; ok {
		return p, nil
	}
	p, err := subtitle.NewPipeline(record, layout)
	if err != nil {
		return nil, &JobError{Kind: ErrInputInvalid, PrimitiveIndex: -1, Detail: truncateDetail(err.Error())}
	}
	pipelines[key] = p
	return p, nil
}

// sourceDuration probes the source length, collapsing concurrent probes of
// the same file across jobs.
func (r *ClipRenderer) sourceDuration(ctx context.Context, source string) (float64, error) {
	if _, err := os.Stat(source); err != nil {
		return 0, fmt.Errorf("%w: %s", clip.ErrSourceNotFound, source)
	}
	v, err, _ := r.probes.Do(source, func() (interface{}, error) {
		return r.drv.Duration(ctx, source)
	})
	if err != nil {
		return 0, fmt.Errorf("probe source duration: %w", err)
	}
	return v.(float64), nil
}

// classify maps an arbitrary failure onto the job error taxonomy.
func classify(err error, index int) *JobError {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}

	kind := ErrToolFailed
	switch {
	case errors.Is(err, context.Canceled):
		kind = ErrCancelled
	case errors.Is(err, ffmpeg.ErrTimeout):
		kind = ErrToolTimeout
	case errors.Is(err, ffmpeg.ErrNotFound):
		kind = ErrToolMissing
	case errors.Is(err, errResourcesExhausted):
		kind = ErrResourceExhausted
	case errors.Is(err, clip.ErrSourceNotFound),
		errors.Is(err, template.ErrUnknownTemplate),
		errors.Is(err, template.ErrSegmentOutOfBounds),
		errors.Is(err, concat.ErrInputMissing):
		kind = ErrInputInvalid
	}
	return &JobError{Kind: kind, PrimitiveIndex: index, Detail: truncateDetail(err.Error())}
}

func padding(req Request) (before, after float64) {
	before, after = defaultPaddingBefore, defaultPaddingAfter
	if req.PaddingBefore != nil {
		before = *req.PaddingBefore
	}
	if req.PaddingAfter != nil {
		after = *req.PaddingAfter
	}
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}
	return before, after
}

// maybeWriteClipManifest persists the completed clip list at checkpoint
// boundaries so a restarted coordinator can skip finished primitives.
func (r *ClipRenderer) maybeWriteClipManifest(scratch string, clips []string, done int) {
	if !r.resume || done == 0 || done%checkpointEvery != 0 {
		return
	}
	data, err := json.Marshal(clips)
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(scratch, clipManifestName), data, 0644); err != nil {
		log.Warn("failed to write clip manifest: %v", err)
	}
}

// loadClipManifest returns the previously rendered clips when all of them
// still exist; otherwise the job restarts from the first primitive.
func (r *ClipRenderer) loadClipManifest(scratch string, checkpoint int) ([]string, int) {
	data, err := os.ReadFile(filepath.Join(scratch, clipManifestName))
	if err != nil {
		return nil, 0
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil || len(paths) < checkpoint {
		return nil, 0
	}
	paths = paths[:checkpoint]
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, 0
		}
	}
	return paths, checkpoint
}

// seedSequence advances the factory numbering past every artifact already in
// scratch.
func seedSequence(factory *clip.Factory, scratch string) {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return
	}
	max := 0
	for _, e := range entries {
		prefix, _, found := strings.Cut(e.Name(), "_")
		if !found {
			continue
		}
		if n, err := strconv.Atoi(prefix); err == nil && n > max {
			max = n
		}
	}
	factory.SeedSequence(max)
}

func (r *ClipRenderer) ensureOutputDir(job *Job) (string, error) {
	dir := filepath.Join(r.outputRoot, time.Now().Format("2006-01-02"), job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &JobError{Kind: ErrToolFailed, PrimitiveIndex: -1,
			Detail: fmt.Sprintf("create output dir: %v", err)}
	}
	return dir, nil
}

func outputName(templateID int, batch bool) string {
	suffix := ""
	if batch {
		suffix = "_batch"
	}
	return fmt.Sprintf("%s_tp_%d%s.mp4", time.Now().Format("20060102_150405"), templateID, suffix)
}

// retainClips copies the primitive clips next to the final output.
func retainClips(clips []string, outDir string) error {
	dir := filepath.Join(outDir, "individual_clips")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, src := range clips {
		if err := copyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
			return err
		}
	}
	return nil
}

// moveFile renames when possible and falls back to copy across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// segmentClipName derives a batch per-segment filename from its start time,
// zero padded and truncated to a tenth of a second.
func segmentClipName(start float64) string {
	truncated := float64(int(start*10)) / 10
	return fmt.Sprintf("%06.1f.mp4", truncated)
}
