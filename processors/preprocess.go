package processors

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"videoAssess/config"
	"videoAssess/core"
	"videoAssess/utils"
)

const extractRetries = 3

// PreprocessResult carries what the parallel branches of a job consume.
type PreprocessResult struct {
	AudioPath string
	Frames    []core.Frame
	Info      *core.VideoInfo
	SampleFPS float64
}

// PreprocessVideo validates the input, extracts the audio track and samples
// frames at the configured rate. Any ffmpeg/ffprobe failure here is fatal
// for the job.
func PreprocessVideo(cfg *config.Config, jobID, videoPath string) (*PreprocessResult, error) {
	jobDir := filepath.Join(core.DataRoot(), jobID)
	framesDir := filepath.Join(jobDir, "frames")
	if err := os.MkdirAll(framesDir, 0755); err != nil {
		return nil, fmt.Errorf("create job directory: %v", err)
	}

	log.Printf("[%s] Validating video file: %s", jobID, videoPath)
	info, err := utils.ProbeVideo(videoPath)
	if err != nil {
		return nil, fmt.Errorf("video validation failed: %v", err)
	}
	if !info.HasAudio {
		// Transcription is a hard requirement; there is no silent-audio path.
		return nil, fmt.Errorf("no audio track found in %s", filepath.Base(videoPath))
	}

	log.Printf("[%s] Extracting audio (duration: %.1fs)", jobID, info.Duration)
	audioPath := filepath.Join(jobDir, "audio.wav")
	if err := extractAudioWithRetry(videoPath, audioPath, extractRetries); err != nil {
		return nil, fmt.Errorf("audio extraction failed: %v", err)
	}

	sampleFPS := chooseSampleRate(cfg, info.Duration)
	log.Printf("[%s] Extracting frames at %.2f fps", jobID, sampleFPS)
	if err := extractFramesWithRetry(videoPath, framesDir, sampleFPS, extractRetries); err != nil {
		return nil, fmt.Errorf("frame extraction failed: %v", err)
	}

	frames, err := enumerateFrames(framesDir, sampleFPS)
	if err != nil {
		return nil, fmt.Errorf("enumerate frames: %v", err)
	}
	log.Printf("[%s] Preprocessing completed: %d frames", jobID, len(frames))

	return &PreprocessResult{AudioPath: audioPath, Frames: frames, Info: info, SampleFPS: sampleFPS}, nil
}

// chooseSampleRate fixes the sampling rate once per job. Long videos are
// clamped so the total frame count stays within the configured budget.
func chooseSampleRate(cfg *config.Config, durationSec float64) float64 {
	rate := cfg.FrameSampleFPS
	if cfg.FrameBudget > 0 && durationSec > 0 {
		if rate*durationSec > float64(cfg.FrameBudget) {
			rate = float64(cfg.FrameBudget) / durationSec
		}
	}
	return rate
}

func extractAudio(inputPath, audioOut string) error {
	args := []string{"-y", "-i", inputPath, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", audioOut}
	return utils.RunFFmpeg(args)
}

func extractAudioWithRetry(inputPath, outputPath string, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := extractAudio(inputPath, outputPath)
		if err == nil {
			if stat, statErr := os.Stat(outputPath); statErr == nil && stat.Size() > 0 {
				return nil
			}
			err = fmt.Errorf("audio file empty or not created")
		}
		lastErr = err
		log.Printf("Audio extraction attempt %d/%d failed: %v", attempt, maxRetries, err)
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
			os.Remove(outputPath)
		}
	}
	return fmt.Errorf("after %d attempts: %v", maxRetries, lastErr)
}

func extractFrames(inputPath, framesDir string, fps float64) error {
	pattern := filepath.Join(framesDir, "%05d.jpg")
	args := []string{"-y", "-i", inputPath, "-vf", fmt.Sprintf("fps=%g", fps), pattern}
	return utils.RunFFmpeg(args)
}

func extractFramesWithRetry(inputPath, framesDir string, fps float64, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := extractFrames(inputPath, framesDir, fps)
		if err == nil {
			if files, readErr := os.ReadDir(framesDir); readErr == nil && len(files) > 0 {
				return nil
			}
			err = fmt.Errorf("no frames generated")
		}
		lastErr = err
		log.Printf("Frame extraction attempt %d/%d failed: %v", attempt, maxRetries, err)
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
			os.RemoveAll(framesDir)
			os.MkdirAll(framesDir, 0755)
		}
	}
	return fmt.Errorf("after %d attempts: %v", maxRetries, lastErr)
}

// enumerateFrames builds the ordered frame list from the files ffmpeg wrote.
// ffmpeg numbers output files from 1; timestamp = index / sample rate.
func enumerateFrames(framesDir string, fps float64) ([]core.Frame, error) {
	d, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, err
	}
	frames := make([]core.Frame, 0, len(d))
	for _, e := range d {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base := name
		if ext := filepath.Ext(base); ext != "" {
			base = base[:len(base)-len(ext)]
		}
		i, err := strconv.Atoi(base)
		if err != nil {
			continue
		}
		ts := float64(i-1) / fps
		frames = append(frames, core.Frame{Index: i - 1, TimestampSec: ts, Path: filepath.Join(framesDir, name)})
	}
	return frames, nil
}
