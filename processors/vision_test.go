package processors

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"videoAssess/core"
)

type fakeVisionClient struct {
	mu        sync.Mutex
	inFlight  int32
	maxSeen   int32
	calls     int
	failTimes map[float64]int // first-frame timestamp -> failures remaining
	err       error
}

func (f *fakeVisionClient) AnalyzeFrames(ctx context.Context, frames []core.Frame) ([]string, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, cur) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.calls++
	if f.failTimes != nil {
		if remaining, ok := f.failTimes[frames[0].TimestampSec]; ok && remaining != 0 {
			if remaining > 0 {
				f.failTimes[frames[0].TimestampSec] = remaining - 1
			}
			err := f.err
			f.mu.Unlock()
			if err == nil {
				err = fmt.Errorf("synthetic failure")
			}
			return nil, err
		}
	}
	f.mu.Unlock()

	texts := make([]string, len(frames))
	for i, fr := range frames {
		texts[i] = fmt.Sprintf("person at %.0fs maintains eye contact", fr.TimestampSec)
	}
	return texts, nil
}

func makeFrames(n int) []core.Frame {
	frames := make([]core.Frame, n)
	for i := range frames {
		frames[i] = core.Frame{Index: i, TimestampSec: float64(i)}
	}
	return frames
}

func TestFanOutConcurrencyBound(t *testing.T) {
	client := &fakeVisionClient{}
	f := NewFanOut(client, FanOutConfig{BatchSize: 1, Concurrency: 4, BaseDelay: time.Millisecond})

	obs := f.Run(context.Background(), makeFrames(20), nil)
	if len(obs) != 20 {
		t.Fatalf("expected 20 observations, got %d", len(obs))
	}
	if max := atomic.LoadInt32(&client.maxSeen); max > 4 {
		t.Fatalf("concurrency ceiling exceeded: %d in flight", max)
	}
}

func TestFanOutBackoffNonDecreasing(t *testing.T) {
	client := &fakeVisionClient{failTimes: map[float64]int{0: -1}} // fail forever
	f := NewFanOut(client, FanOutConfig{BatchSize: 1, Concurrency: 1, MaxRetries: 4, BaseDelay: 10 * time.Millisecond})

	var sleeps []time.Duration
	f.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	obs := f.Run(context.Background(), makeFrames(1), nil)
	if len(obs) != 0 {
		t.Fatalf("expected exhausted batch to contribute nothing, got %d observations", len(obs))
	}
	if len(sleeps) != 3 {
		t.Fatalf("expected 3 backoff sleeps for 4 attempts, got %d", len(sleeps))
	}
	for i := 1; i < len(sleeps); i++ {
		if sleeps[i] < sleeps[i-1] {
			t.Fatalf("backoff decreased: %v after %v", sleeps[i], sleeps[i-1])
		}
	}
	if sleeps[0] != 10*time.Millisecond || sleeps[1] != 20*time.Millisecond {
		t.Fatalf("unexpected backoff schedule: %v", sleeps)
	}
}

func TestFanOutHonorsRetryAfterHint(t *testing.T) {
	client := &fakeVisionClient{
		failTimes: map[float64]int{0: 1},
		err:       &core.RateLimitError{RetryAfter: 500 * time.Millisecond},
	}
	f := NewFanOut(client, FanOutConfig{BatchSize: 1, Concurrency: 1, MaxRetries: 3, BaseDelay: 10 * time.Millisecond})

	var sleeps []time.Duration
	f.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	obs := f.Run(context.Background(), makeFrames(1), nil)
	if len(obs) != 1 {
		t.Fatalf("expected recovery after rate limit, got %d observations", len(obs))
	}
	if len(sleeps) != 1 || sleeps[0] < 500*time.Millisecond {
		t.Fatalf("retry-after hint ignored, sleeps: %v", sleeps)
	}
}

func TestFanOutPartialFailure(t *testing.T) {
	client := &fakeVisionClient{failTimes: map[float64]int{3: -1}}
	f := NewFanOut(client, FanOutConfig{BatchSize: 3, Concurrency: 2, MaxRetries: 2, BaseDelay: time.Millisecond})

	obs := f.Run(context.Background(), makeFrames(9), nil)
	if len(obs) != 6 {
		t.Fatalf("expected only the failing batch dropped (6 observations), got %d", len(obs))
	}
	for _, o := range obs {
		if o.TimestampSec >= 3 && o.TimestampSec < 6 {
			t.Fatalf("observation from dropped batch present at %.0fs", o.TimestampSec)
		}
	}
}

func TestFanOutWaveProgress(t *testing.T) {
	client := &fakeVisionClient{}
	f := NewFanOut(client, FanOutConfig{BatchSize: 2, Concurrency: 2, BaseDelay: time.Millisecond})

	var reported []int
	total := 0
	f.Run(context.Background(), makeFrames(12), func(done, waves int) {
		reported = append(reported, done)
		total = waves
	})

	// 6 batches, 2 per wave.
	if total != 3 {
		t.Fatalf("expected 3 waves, got %d", total)
	}
	if len(reported) != 3 {
		t.Fatalf("expected 3 progress callbacks, got %d", len(reported))
	}
	for i, done := range reported {
		if done != i+1 {
			t.Fatalf("wave progress out of order: %v", reported)
		}
	}
}

func TestSplitFrameBlocks(t *testing.T) {
	content := "FRAME 1: person leaning forward.\nFRAME 2: arms crossed.\nFRAME 3: empty room."
	texts := splitFrameBlocks(content, 3)
	if len(texts) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(texts))
	}
	if texts[1] != "arms crossed." {
		t.Fatalf("unexpected second block: %q", texts[1])
	}

	// A response that ignores the format falls back to the full text.
	texts = splitFrameBlocks("two people talking", 2)
	if len(texts) != 2 || texts[0] != "two people talking" || texts[1] != texts[0] {
		t.Fatalf("fallback split wrong: %v", texts)
	}
}

func TestExtractVisionTags(t *testing.T) {
	tags := extractVisionTags("The clinician leans forward, maintains eye contact and nods.")
	want := map[string]bool{"eye_contact": true, "forward_lean": true, "nodding": true}
	if len(tags) != len(want) {
		t.Fatalf("expected %d tags, got %v", len(want), tags)
	}
	for _, tag := range tags {
		if !want[tag] {
			t.Fatalf("unexpected tag %q in %v", tag, tags)
		}
	}

	if tags := extractVisionTags("No person is visible in the frame."); len(tags) != 1 || tags[0] != "no_person" {
		t.Fatalf("expected no_person tag, got %v", tags)
	}
}
