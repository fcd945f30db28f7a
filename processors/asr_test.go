package processors

import (
	"testing"

	"videoAssess/core"
)

func TestNormalizeUtterancesSortsByStart(t *testing.T) {
	in := []core.Utterance{
		{Speaker: 0, Text: "second", Start: 5, End: 7},
		{Speaker: 1, Text: "first", Start: 1, End: 3},
	}

	out := NormalizeUtterances(in)
	if out[0].Text != "first" || out[1].Text != "second" {
		t.Fatalf("utterances not sorted: %v", out)
	}
}

func TestNormalizeUtterancesClipsSameSpeakerOverlap(t *testing.T) {
	in := []core.Utterance{
		{Speaker: 0, Text: "a", Start: 0, End: 4},
		{Speaker: 0, Text: "b", Start: 2, End: 6},
		{Speaker: 0, Text: "c", Start: 3, End: 3.5},
	}

	out := NormalizeUtterances(in)
	if out[1].Start != 4 {
		t.Fatalf("overlap not clipped forward, start = %v", out[1].Start)
	}
	if out[2].Start != 6 || out[2].End != 6 {
		t.Fatalf("fully-contained utterance not clipped, got %v", out[2])
	}
	for i := 1; i < len(out); i++ {
		if out[i].Speaker == out[i-1].Speaker && out[i].Start < out[i-1].End {
			t.Fatalf("same-speaker overlap survives at %d: %v", i, out)
		}
	}
}

func TestNormalizeUtterancesKeepsCrossSpeakerOverlap(t *testing.T) {
	in := []core.Utterance{
		{Speaker: 0, Text: "a", Start: 0, End: 5},
		{Speaker: 1, Text: "interjection", Start: 2, End: 3},
	}

	out := NormalizeUtterances(in)
	// Different speakers legitimately talk over each other.
	if out[1].Start != 2 {
		t.Fatalf("cross-speaker overlap should be preserved, got %v", out[1])
	}
}

func TestParseSpeakerID(t *testing.T) {
	cases := map[string]int{
		"SPEAKER_00": 0,
		"SPEAKER_01": 1,
		"SPEAKER_12": 12,
		"unknown":    0,
		"":           0,
	}
	for label, want := range cases {
		if got := parseSpeakerID(label); got != want {
			t.Errorf("parseSpeakerID(%q) = %d, want %d", label, got, want)
		}
	}
}
