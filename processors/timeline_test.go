package processors

import (
	"reflect"
	"testing"

	"videoAssess/core"
)

func TestFuseTimelineSpeechAndVision(t *testing.T) {
	utterances := []core.Utterance{
		{Speaker: 0, Role: RoleClinician, Text: "What brings you in today?", Start: 1.0, End: 3.0},
		{Speaker: 0, Role: RoleClinician, Text: "I'm sorry to hear that, it must be hard.", Start: 10.0, End: 13.0},
		{Speaker: 0, Role: RoleClinician, Text: "You have bilateral edema.", Start: 20.0, End: 22.0},
	}
	observations := []core.FrameObservation{
		{TimestampSec: 2.0, Text: "The clinician maintains eye contact and leans forward."},
		{TimestampSec: 15.0, Text: "Arms crossed, looking away from the patient."},
	}

	events := FuseTimeline(utterances, observations)

	byType := map[string]core.TimelineEvent{}
	for _, ev := range events {
		byType[ev.Type] = ev
	}

	if ev, ok := byType["open_question"]; !ok || ev.Severity != core.SeverityNeutral {
		t.Fatalf("missing open_question event: %v", byType)
	}
	if ev, ok := byType["acknowledgment_of_emotion"]; !ok || ev.Severity != core.SeverityPositive || ev.TimeSec != 10.0 {
		t.Fatalf("missing acknowledgment event: %v", byType)
	}
	if ev, ok := byType["jargon_unexplained"]; !ok || ev.Severity != core.SeverityWarning {
		t.Fatalf("missing jargon event: %v", byType)
	}
	if _, ok := byType["eye_contact"]; !ok {
		t.Fatalf("missing eye_contact event: %v", byType)
	}
	if ev, ok := byType["closed_posture"]; !ok || ev.TimeSec != 15.0 {
		t.Fatalf("missing closed_posture event: %v", byType)
	}
}

func TestFuseTimelineSorted(t *testing.T) {
	utterances := []core.Utterance{
		{Text: "does that make sense to you?", Start: 30.0},
		{Text: "what happened next?", Start: 5.0},
	}
	observations := []core.FrameObservation{
		{TimestampSec: 12.0, Text: "nodding along"},
	}

	events := FuseTimeline(utterances, observations)
	for i := 1; i < len(events); i++ {
		if events[i].TimeSec < events[i-1].TimeSec {
			t.Fatalf("events out of order at %d: %v", i, events)
		}
	}
}

func TestFuseTimelineDeduplicates(t *testing.T) {
	// Same event type within the same decisecond collapses to one event.
	utterances := []core.Utterance{
		{Text: "What is the pain like?", Start: 4.02},
		{Text: "How long has it lasted?", Start: 4.04},
	}

	events := FuseTimeline(utterances, nil)
	count := 0
	for _, ev := range events {
		if ev.Type == "open_question" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected 1 deduplicated open_question, got %d", count)
	}
}

func TestFuseTimelineDeterministic(t *testing.T) {
	utterances := []core.Utterance{
		{Text: "Tell me about your symptoms.", Start: 2.0},
		{Text: "I understand, that sounds difficult.", Start: 8.0},
	}
	observations := []core.FrameObservation{
		{TimestampSec: 3.0, Text: "open posture, direct gaze"},
		{TimestampSec: 9.0, Text: "gesturing with open palms"},
	}

	first := FuseTimeline(utterances, observations)
	second := FuseTimeline(utterances, observations)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("fusion not deterministic:\n%v\n%v", first, second)
	}
}

func TestFuseTimelineEmptyInputs(t *testing.T) {
	if events := FuseTimeline(nil, nil); len(events) != 0 {
		t.Fatalf("expected no events, got %v", events)
	}
}
