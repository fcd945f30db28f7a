package processors

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoAssess/config"
	"videoAssess/core"
)

// VisionClient analyzes a batch of frames and returns one free-text
// observation per frame, in input order. A rate-limited rejection is
// reported as *core.RateLimitError.
type VisionClient interface {
	AnalyzeFrames(ctx context.Context, frames []core.Frame) ([]string, error)
}

type FanOutConfig struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	BaseDelay   time.Duration
}

// FanOut dispatches deduplicated frames to the vision service in
// concurrency-bounded waves. Each wave is issued fully in parallel and
// awaited before the next begins.
type FanOut struct {
	client VisionClient
	cfg    FanOutConfig

	// sleep is swappable so tests can observe backoff without waiting.
	sleep func(time.Duration)
}

func NewFanOut(client VisionClient, cfg FanOutConfig) *FanOut {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &FanOut{client: client, cfg: cfg, sleep: time.Sleep}
}

// Run returns one observation per frame whose batch succeeded. A batch that
// exhausts its retries contributes nothing; the pipeline proceeds with fewer
// observations rather than failing. onWave, if non-nil, is called after each
// wave with the number of completed and total waves.
func (f *FanOut) Run(ctx context.Context, frames []core.Frame, onWave func(done, total int)) []core.FrameObservation {
	if len(frames) == 0 {
		return nil
	}

	batches := batchFrames(frames, f.cfg.BatchSize)
	waves := (len(batches) + f.cfg.Concurrency - 1) / f.cfg.Concurrency

	results := make([][]core.FrameObservation, len(batches))
	for w := 0; w < waves; w++ {
		start := w * f.cfg.Concurrency
		end := start + f.cfg.Concurrency
		if end > len(batches) {
			end = len(batches)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = f.analyzeBatch(ctx, batches[i])
			}(i)
		}
		wg.Wait()

		if onWave != nil {
			onWave(w+1, waves)
		}
		if ctx.Err() != nil {
			break
		}
	}

	var observations []core.FrameObservation
	for _, r := range results {
		observations = append(observations, r...)
	}
	return observations
}

// analyzeBatch issues one request with retry and exponential backoff. When a
// rate-limit rejection carries a retry-after hint, the hint wins over the
// exponential schedule.
func (f *FanOut) analyzeBatch(ctx context.Context, batch []core.Frame) []core.FrameObservation {
	delay := f.cfg.BaseDelay
	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			delay *= 2
			f.sleep(wait)
		}
		if ctx.Err() != nil {
			return nil
		}

		texts, err := f.client.AnalyzeFrames(ctx, batch)
		if err == nil {
			return buildObservations(batch, texts)
		}

		var rl *core.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}
		log.Printf("vision batch at %.1fs failed (attempt %d/%d): %v",
			batch[0].TimestampSec, attempt+1, f.cfg.MaxRetries, err)
	}
	log.Printf("vision batch at %.1fs dropped after %d attempts", batch[0].TimestampSec, f.cfg.MaxRetries)
	return nil
}

func batchFrames(frames []core.Frame, size int) [][]core.Frame {
	var batches [][]core.Frame
	for i := 0; i < len(frames); i += size {
		end := i + size
		if end > len(frames) {
			end = len(frames)
		}
		batches = append(batches, frames[i:end])
	}
	return batches
}

func buildObservations(batch []core.Frame, texts []string) []core.FrameObservation {
	obs := make([]core.FrameObservation, 0, len(batch))
	for i, frame := range batch {
		text := ""
		if i < len(texts) {
			text = texts[i]
		}
		obs = append(obs, core.FrameObservation{
			TimestampSec: frame.TimestampSec,
			Text:         text,
			Tags:         extractVisionTags(text),
		})
	}
	return obs
}

// Behavioral tag vocabulary, matching the metrics the frame analysis prompt
// asks for.
var visionTagPatterns = []struct {
	Tag     string
	Pattern *regexp.Regexp
}{
	{"eye_contact", regexp.MustCompile(`(?i)(sustained |maintain(s|ing)? )?eye contact|direct gaze`)},
	{"closed_posture", regexp.MustCompile(`(?i)arms (are )?crossed|crossed arms|closed posture`)},
	{"open_posture", regexp.MustCompile(`(?i)open posture|relaxed (stance|posture)`)},
	{"forward_lean", regexp.MustCompile(`(?i)lean(s|ing)? forward|forward lean`)},
	{"nodding", regexp.MustCompile(`(?i)\bnod(s|ding)?\b`)},
	{"gesturing", regexp.MustCompile(`(?i)gestur(e|es|ing)|open palm`)},
	{"looking_away", regexp.MustCompile(`(?i)look(s|ing) away|avert(s|ing)? (his |her |their )?gaze|avoid(s|ing)? eye contact`)},
	{"no_person", regexp.MustCompile(`(?i)no (person|one) (is )?(visible|detected|present)|empty (frame|room)`)},
}

func extractVisionTags(text string) []string {
	var tags []string
	for _, p := range visionTagPatterns {
		if p.Pattern.MatchString(text) {
			tags = append(tags, p.Tag)
		}
	}
	return tags
}

// ---------------- OpenAI-compatible implementation ----------------

const visionInstruction = `You are analyzing still frames from a recorded clinical interaction.
For each numbered image, describe the visible nonverbal behavior in 2-3 sentences:
eye contact, posture (open/closed, arms crossed), forward lean, nodding,
hand gestures, and whether a person is visible at all.
Answer with one block per image, each starting with "FRAME <n>:".`

type OpenAIVisionClient struct {
	cli   *openai.Client
	model string
}

func NewOpenAIVisionClient(cfg *config.Config) *OpenAIVisionClient {
	return &OpenAIVisionClient{cli: newOpenAIClient(cfg), model: cfg.VisionModel}
}

func (c *OpenAIVisionClient) AnalyzeFrames(ctx context.Context, frames []core.Frame) ([]string, error) {
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: visionInstruction},
	}
	for _, frame := range frames {
		data, err := os.ReadFile(frame.Path)
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %v", frame.Path, err)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
				Detail: openai.ImageURLDetailLow,
			},
		})
	}

	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		return nil, translateAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty vision response")
	}
	return splitFrameBlocks(resp.Choices[0].Message.Content, len(frames)), nil
}

var frameBlockRe = regexp.MustCompile(`(?i)FRAME\s+(\d+)\s*:`)

// splitFrameBlocks maps the model's "FRAME n:" blocks back to input frames.
// If the response doesn't follow the format, every frame gets the full text
// so no observation is silently lost.
func splitFrameBlocks(content string, n int) []string {
	locs := frameBlockRe.FindAllStringIndex(content, -1)
	if len(locs) != n {
		texts := make([]string, n)
		for i := range texts {
			texts[i] = strings.TrimSpace(content)
		}
		return texts
	}
	texts := make([]string, n)
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		texts[i] = strings.TrimSpace(content[loc[1]:end])
	}
	return texts
}

// translateAPIError converts a provider 429 into the typed rate-limit error
// the fan-out retry loop understands.
func translateAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return &core.RateLimitError{RetryAfter: 0}
	}
	return err
}

func newOpenAIClient(cfg *config.Config) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}
