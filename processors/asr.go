package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"videoAssess/config"
	"videoAssess/core"
)

// ASRProvider transcribes an audio file into diarized utterances. Speaker
// identifiers are anonymous integers; role resolution happens later.
type ASRProvider interface {
	Transcribe(ctx context.Context, audioPath string) ([]core.Utterance, error)
}

// PickASRProvider selects the transcription backend. whisperx (exec) gives
// real diarization; the API provider returns a single anonymous speaker.
func PickASRProvider(cfg *config.Config) ASRProvider {
	switch strings.ToLower(os.Getenv("ASR_PROVIDER")) {
	case "whisperx":
		return WhisperXASR{}
	default:
		return &WhisperAPIASR{cli: newOpenAIClient(cfg), model: cfg.TranscribeModel}
	}
}

// ---------------- API implementation ----------------

type WhisperAPIASR struct {
	cli   *openai.Client
	model string
}

func (w *WhisperAPIASR) Transcribe(ctx context.Context, audioPath string) ([]core.Utterance, error) {
	resp, err := w.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %v", err)
	}

	utterances := make([]core.Utterance, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		utterances = append(utterances, core.Utterance{
			Speaker: 0,
			Text:    text,
			Start:   seg.Start,
			End:     seg.End,
			// avg_logprob is a log probability; exp maps it back to [0,1].
			Confidence: math.Exp(seg.AvgLogprob),
		})
	}
	if len(utterances) == 0 {
		return nil, fmt.Errorf("transcription returned no speech segments")
	}
	return NormalizeUtterances(utterances), nil
}

// ---------------- whisperx exec implementation ----------------

// WhisperXASR shells out to a local whisperx install, which emits diarized
// segments as JSON on stdout.
type WhisperXASR struct{}

func (WhisperXASR) Transcribe(ctx context.Context, audioPath string) ([]core.Utterance, error) {
	cmd := exec.CommandContext(ctx, "python", "scripts/whisperx_transcribe.py", audioPath)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("whisperx transcription failed: %v", err)
	}

	var segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
		Speaker string  `json:"speaker"`
		Score   float64 `json:"score"`
	}
	if err := json.Unmarshal(output, &segments); err != nil {
		return nil, fmt.Errorf("parse whisperx output: %v", err)
	}

	utterances := make([]core.Utterance, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		utterances = append(utterances, core.Utterance{
			Speaker:    parseSpeakerID(seg.Speaker),
			Text:       text,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: seg.Score,
		})
	}
	if len(utterances) == 0 {
		return nil, fmt.Errorf("whisperx returned no speech segments")
	}
	return NormalizeUtterances(utterances), nil
}

// parseSpeakerID maps labels like "SPEAKER_01" to their integer id.
func parseSpeakerID(label string) int {
	if i := strings.LastIndex(label, "_"); i >= 0 {
		if n, err := strconv.Atoi(label[i+1:]); err == nil {
			return n
		}
	}
	return 0
}

// NormalizeUtterances enforces the ordering invariant: sorted by start time
// and non-overlapping per speaker. When consecutive utterances of the same
// speaker overlap, the later one is clipped forward.
func NormalizeUtterances(utterances []core.Utterance) []core.Utterance {
	sort.SliceStable(utterances, func(i, j int) bool {
		return utterances[i].Start < utterances[j].Start
	})

	lastEnd := make(map[int]float64)
	out := make([]core.Utterance, 0, len(utterances))
	for _, u := range utterances {
		if end, ok := lastEnd[u.Speaker]; ok && u.Start < end {
			u.Start = end
			if u.End < u.Start {
				u.End = u.Start
			}
		}
		lastEnd[u.Speaker] = u.End
		out = append(out, u)
	}
	return out
}
