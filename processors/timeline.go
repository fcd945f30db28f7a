package processors

import (
	"fmt"
	"math"
	"regexp"
	"sort"

	"videoAssess/core"
)

// The event taxonomy is data, not code: each rule is a tagged
// (pattern, type, severity) entry so the tables are independently testable.
type PatternRule struct {
	Type        string
	Severity    core.Severity
	Pattern     *regexp.Regexp
	Description string
}

// Speech patterns are matched against utterance text.
var SpeechRules = []PatternRule{
	{"acknowledgment_of_emotion", core.SeverityPositive,
		regexp.MustCompile(`(?i)(i understand|that sounds (hard|difficult|scary|frustrating)|i can see (that|why|how)|it'?s understandable|i'?m sorry (to hear|you)|that must be)`),
		"Acknowledged the patient's emotion"},
	{"teach_back", core.SeverityPositive,
		regexp.MustCompile(`(?i)(repeat (that|it) back|in your own words|tell me what you understood|just to make sure (you|we)|can you walk me through)`),
		"Used teach-back to confirm understanding"},
	{"understanding_check", core.SeverityPositive,
		regexp.MustCompile(`(?i)(does that make sense|do you have any questions|is (that|this) clear|anything you'?d like me to explain)`),
		"Checked for understanding"},
	{"open_question", core.SeverityNeutral,
		regexp.MustCompile(`(?i)^(what|how|tell me|describe|walk me through)`),
		"Asked an open-ended question"},
	{"jargon_unexplained", core.SeverityWarning,
		regexp.MustCompile(`(?i)\b(hypertension|myocardial|tachycardia|edema|dyspnea|etiology|prognosis|bilateral|idiopathic|contraindicated|renal insufficiency)\b`),
		"Used medical jargon without explanation"},
	{"interruption", core.SeverityWarning,
		regexp.MustCompile(`(?i)(^(sorry to interrupt|let me stop you|hold on)|--$)`),
		"Interrupted the speaker"},
}

// Vision patterns are matched against frame observation text.
var VisionRules = []PatternRule{
	{"eye_contact", core.SeverityPositive,
		regexp.MustCompile(`(?i)(sustained |maintain(s|ing)? |good )?eye contact|direct gaze`),
		"Maintained eye contact"},
	{"forward_lean", core.SeverityPositive,
		regexp.MustCompile(`(?i)lean(s|ing)? forward|forward lean`),
		"Leaned forward attentively"},
	{"nodding", core.SeverityPositive,
		regexp.MustCompile(`(?i)\bnod(s|ding)?\b`),
		"Nodded in acknowledgment"},
	{"gesturing", core.SeverityNeutral,
		regexp.MustCompile(`(?i)gestur(e|es|ing)|open palm`),
		"Used hand gestures"},
	{"closed_posture", core.SeverityWarning,
		regexp.MustCompile(`(?i)arms (are )?crossed|crossed arms|closed posture`),
		"Displayed closed posture"},
	{"looking_away", core.SeverityWarning,
		regexp.MustCompile(`(?i)look(s|ing) away|avert(s|ing)? (his |her |their )?gaze|avoid(s|ing)? eye contact`),
		"Broke eye contact / looked away"},
}

// Events closer together than this on the same type are considered the same
// detection.
const fusionGranularity = 0.1 // seconds

// FuseTimeline merges the speech and vision streams into one chronological
// event list. The two streams are sampled at independent rates, so each gets
// its own matcher pass; only the final merge imposes order. Duplicate key is
// (type, time rounded to a decisecond); the first match wins. The result is
// deterministic for fixed inputs.
func FuseTimeline(utterances []core.Utterance, observations []core.FrameObservation) []core.TimelineEvent {
	seen := map[string]bool{}
	var events []core.TimelineEvent

	emit := func(t float64, rule PatternRule) {
		key := fmt.Sprintf("%s@%.1f", rule.Type, roundToGranularity(t))
		if seen[key] {
			return
		}
		seen[key] = true
		events = append(events, core.TimelineEvent{
			TimeSec:     t,
			Type:        rule.Type,
			Severity:    rule.Severity,
			Description: rule.Description,
		})
	}

	for _, u := range utterances {
		for _, rule := range SpeechRules {
			if rule.Pattern.MatchString(u.Text) {
				emit(u.Start, rule)
			}
		}
	}
	for _, o := range observations {
		for _, rule := range VisionRules {
			if rule.Pattern.MatchString(o.Text) {
				emit(o.TimestampSec, rule)
			}
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].TimeSec != events[j].TimeSec {
			return events[i].TimeSec < events[j].TimeSec
		}
		return events[i].Type < events[j].Type
	})
	return events
}

func roundToGranularity(t float64) float64 {
	return math.Round(t/fusionGranularity) * fusionGranularity
}
