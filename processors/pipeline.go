package processors

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"videoAssess/config"
	"videoAssess/core"
)

// ReportSink receives completed reports for persistence and search indexing.
// Sink failures are logged, never surfaced to the job: the report already
// exists and the caller can fetch it.
type ReportSink interface {
	SaveReport(ctx context.Context, report *core.Report) error
	IndexReport(ctx context.Context, report *core.Report) error
}

// Coordinator owns the job lifecycle: it starts pipeline runs, tracks their
// stage and progress, and answers polling requests. One background task per
// job mutates job state; everything else reads through the store.
type Coordinator struct {
	cfg       *config.Config
	jobs      core.JobStore
	cache     *core.ResultCache
	asr       ASRProvider
	vision    VisionClient
	roles     RoleClassifier
	evaluator DomainEvaluator
	sink      ReportSink

	// mu serializes mutations of in-flight job records: the fan-out
	// progress callback fires concurrently with the stage transitions.
	mu sync.Mutex
}

func NewCoordinator(cfg *config.Config, jobs core.JobStore, cache *core.ResultCache,
	asr ASRProvider, vision VisionClient, roles RoleClassifier,
	evaluator DomainEvaluator, sink ReportSink) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		jobs:      jobs,
		cache:     cache,
		asr:       asr,
		vision:    vision,
		roles:     roles,
		evaluator: evaluator,
		sink:      sink,
	}
}

// Progress milestones per stage. Progress only moves forward; within the
// vision fan-out it advances proportionally between its bounds.
const (
	progressPreprocessed = 10
	progressTranscribed  = 45
	progressAnalyzed     = 80
	progressScored       = 95
	progressDone         = 100
)

// Start registers a new job and launches its pipeline run. contentKey may be
// supplied by the caller; when empty it is derived from the file's content
// identity. When the result cache already holds a report for that key, the
// job is created directly in the completed state and no run is launched.
func (c *Coordinator) Start(videoPath, contentKey string) (*core.Job, bool) {
	key := contentKey
	if key == "" {
		key = core.ContentKey(videoPath)
	}
	job := &core.Job{
		ID:         core.NewID(),
		VideoPath:  videoPath,
		ContentKey: key,
		Stage:      core.StageAudioExtraction,
		CreatedAt:  time.Now(),
	}

	if c.cache != nil {
		if report, ok := c.cache.Get(key); ok {
			log.Printf("[%s] cache hit for %s, skipping pipeline", job.ID, videoPath)
			cached := *report
			cached.JobID = job.ID
			job.Stage = core.StageComplete
			job.Progress = progressDone
			job.Report = &cached
			job.Utterances = cached.Utterances
			job.Observations = cached.Observations
			job.CompletedAt = time.Now()
			c.jobs.Put(job)
			return job, true
		}
	}

	c.jobs.Put(job)
	go c.run(job.ID)
	return job, false
}

// Status reports stage, progress and whatever partial results exist so far.
func (c *Coordinator) Status(jobID string) (*core.JobStatus, error) {
	job, ok := c.jobs.Get(jobID)
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	status := &core.JobStatus{
		JobID:    job.ID,
		Stage:    job.Stage,
		Progress: job.Progress,
		Partial: core.PartialResults{
			UtteranceCount:   len(job.Utterances),
			ObservationCount: len(job.Observations),
		},
		IsComplete: job.Stage == core.StageComplete,
		Error:      job.Error,
	}
	if job.Stage == core.StageComplete {
		status.FinalResults = job.Report
	}
	return status, nil
}

// Report returns the final report of a completed job.
func (c *Coordinator) Report(jobID string) (*core.Report, error) {
	job, ok := c.jobs.Get(jobID)
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	switch job.Stage {
	case core.StageComplete:
		return job.Report, nil
	case core.StageError:
		return nil, fmt.Errorf("job %s failed: %s", jobID, job.Error)
	default:
		return nil, fmt.Errorf("job %s still running (stage %s)", jobID, job.Stage)
	}
}

// run drives one job through the pipeline under the configured wall-clock
// timeout.
func (c *Coordinator) run(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.JobTimeout())
	defer cancel()

	job, ok := c.jobs.Get(jobID)
	if !ok {
		log.Printf("[%s] job vanished before run started", jobID)
		return
	}

	started := time.Now()
	log.Printf("[%s] pipeline started for %s", jobID, job.VideoPath)

	// Stage 1: preprocessing. Fatal on failure.
	c.setStage(job, core.StageAudioExtraction, 0)
	pre, err := PreprocessVideo(c.cfg, job.ID, job.VideoPath)
	if err != nil {
		c.fail(ctx, job, fmt.Errorf("preprocessing: %v", err))
		return
	}
	c.setStage(job, core.StageTranscription, progressPreprocessed)

	// Stages 2+3 run in parallel: transcription on the audio track, dedup
	// and vision fan-out on the frames. A transcription failure is fatal;
	// vision tolerates partial loss.
	type asrResult struct {
		utterances []core.Utterance
		err        error
	}
	asrCh := make(chan asrResult, 1)
	go func() {
		utterances, err := c.asr.Transcribe(ctx, pre.AudioPath)
		if err != nil {
			asrCh <- asrResult{err: err}
			return
		}
		asrCh <- asrResult{utterances: ResolveRoles(ctx, utterances, c.roles)}
	}()

	visionCh := make(chan []core.FrameObservation, 1)
	go func() {
		kept, err := DeduplicateFrames(pre.Frames, c.cfg.DissimilarityThreshold)
		if err != nil {
			log.Printf("[%s] frame dedup failed, analyzing all %d frames: %v", jobID, len(pre.Frames), err)
			kept = pre.Frames
		} else {
			log.Printf("[%s] dedup kept %d of %d frames", jobID, len(kept), len(pre.Frames))
		}

		fanout := NewFanOut(c.vision, FanOutConfig{
			BatchSize:   c.cfg.VisionBatchSize,
			Concurrency: c.cfg.VisionConcurrency,
			MaxRetries:  c.cfg.VisionMaxRetries,
		})
		visionCh <- fanout.Run(ctx, kept, func(done, total int) {
			span := progressAnalyzed - progressTranscribed
			c.setProgress(job, progressTranscribed+span*done/total)
		})
	}()

	asrRes := <-asrCh
	if asrRes.err != nil {
		<-visionCh // let the vision branch drain before failing
		c.fail(ctx, job, fmt.Errorf("transcription: %v", asrRes.err))
		return
	}
	c.update(job, func(j *core.Job) {
		j.Utterances = asrRes.utterances
		j.Stage = core.StageVideoAnalysis
	})
	log.Printf("[%s] transcription done: %d utterances", jobID, len(job.Utterances))

	observations := <-visionCh
	if ctx.Err() != nil {
		c.fail(ctx, job, ctx.Err())
		return
	}
	c.update(job, func(j *core.Job) {
		j.Observations = observations
		j.Stage = core.StageScoring
		if progressAnalyzed > j.Progress {
			j.Progress = progressAnalyzed
		}
	})
	log.Printf("[%s] vision analysis done: %d observations", jobID, len(observations))

	// Stage 4: fusion and scoring.
	events := FuseTimeline(job.Utterances, job.Observations)
	domains, total, percentage, grade, feedback := ScoreDomains(ctx, job.ID, c.evaluator, job.Utterances, events)
	c.setProgress(job, progressScored)

	report := &core.Report{
		JobID:        job.ID,
		VideoPath:    job.VideoPath,
		ContentKey:   job.ContentKey,
		DurationSec:  pre.Info.Duration,
		Utterances:   job.Utterances,
		Observations: job.Observations,
		Events:       events,
		Domains:      domains,
		OverallScore: total,
		MaxScore:     domainMaxScore * float64(len(domains)),
		Percentage:   percentage,
		Grade:        grade,
		Feedback:     feedback,
		CreatedAt:    time.Now(),
	}

	c.update(job, func(j *core.Job) {
		j.Report = report
		j.Error = ""
		j.Stage = core.StageComplete
		j.Progress = progressDone
		j.CompletedAt = time.Now()
	})

	if c.cache != nil {
		c.cache.Put(job.ContentKey, report)
	}
	c.persist(report)

	log.Printf("[%s] pipeline completed in %.1fs: %s (%.1f%%)",
		jobID, time.Since(started).Seconds(), grade, percentage)
}

// persist hands the report to the configured sink. Failures are logged only.
func (c *Coordinator) persist(report *core.Report) {
	if c.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.sink.SaveReport(ctx, report); err != nil {
		log.Printf("[%s] report persistence failed: %v", report.JobID, err)
	}
	if err := c.sink.IndexReport(ctx, report); err != nil {
		log.Printf("[%s] report indexing failed: %v", report.JobID, err)
	}
}

func (c *Coordinator) fail(ctx context.Context, job *core.Job, err error) {
	msg := err.Error()
	if ctx.Err() == context.DeadlineExceeded {
		msg = fmt.Sprintf("job exceeded %s processing limit", c.cfg.JobTimeout())
	}
	log.Printf("[%s] pipeline failed: %s", job.ID, msg)
	c.update(job, func(j *core.Job) {
		j.Stage = core.StageError
		j.Error = msg
		j.Report = nil
		j.CompletedAt = time.Now()
	})
}

func (c *Coordinator) setStage(job *core.Job, stage core.Stage, progress int) {
	c.update(job, func(j *core.Job) {
		j.Stage = stage
		if progress > j.Progress {
			j.Progress = progress
		}
	})
}

// setProgress advances the progress counter; it never moves backwards.
func (c *Coordinator) setProgress(job *core.Job, progress int) {
	c.update(job, func(j *core.Job) {
		if progress > j.Progress {
			j.Progress = progress
		}
	})
}

func (c *Coordinator) update(job *core.Job, fn func(*core.Job)) {
	c.mu.Lock()
	fn(job)
	c.jobs.Put(job)
	c.mu.Unlock()
}
