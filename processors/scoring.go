package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"videoAssess/config"
	"videoAssess/core"
)

// DomainEvaluator scores one competency domain from the assembled evidence.
// Implementations may call a remote model; a failure is recovered per domain
// with the local keyword heuristic.
type DomainEvaluator interface {
	EvaluateDomain(ctx context.Context, domain Domain, evidence Evidence) (core.DomainScore, error)
}

// Evidence is the scoring input: the clinician-side transcript plus the
// fused behavioral timeline.
type Evidence struct {
	Transcript string
	Events     []core.TimelineEvent
}

type Domain struct {
	Name     string
	Criteria []string
	// Positive and negative keyword tables drive the local fallback when
	// the evaluator is unavailable.
	PositiveCues []string
	NegativeCues []string
}

const domainMaxScore = 10.0

var ScoringDomains = []Domain{
	{
		Name: "communication",
		Criteria: []string{
			"uses open-ended questions",
			"listens without interrupting",
			"acknowledges patient emotions",
			"maintains appropriate nonverbal engagement",
		},
		PositiveCues: []string{"open_question", "acknowledgment_of_emotion", "eye_contact", "nodding", "forward_lean"},
		NegativeCues: []string{"interruption", "looking_away", "closed_posture"},
	},
	{
		Name: "patient_education",
		Criteria: []string{
			"explains in plain language",
			"checks patient understanding",
			"uses teach-back",
			"invites questions",
		},
		PositiveCues: []string{"teach_back", "understanding_check"},
		NegativeCues: []string{"jargon_unexplained"},
	},
	{
		Name: "professionalism",
		Criteria: []string{
			"introduces self and role",
			"respectful tone throughout",
			"maintains patient dignity",
			"manages time appropriately",
		},
		PositiveCues: []string{"acknowledgment_of_emotion", "understanding_check"},
		NegativeCues: []string{"interruption"},
	},
	{
		Name: "safety",
		Criteria: []string{
			"verifies patient identity",
			"reviews allergies or contraindications",
			"gives clear follow-up or escalation guidance",
			"confirms medication understanding",
		},
		PositiveCues: []string{"teach_back", "understanding_check"},
		NegativeCues: []string{},
	},
}

// ScoreDomains evaluates every domain and assembles the summary fields.
// Evaluation failures degrade per domain to the keyword heuristic instead of
// failing the run; a heuristic score is flagged as such on the result.
func ScoreDomains(ctx context.Context, jobID string, evaluator DomainEvaluator, utterances []core.Utterance, events []core.TimelineEvent) ([]core.DomainScore, float64, float64, string, []string) {
	evidence := Evidence{
		Transcript: clinicianTranscript(utterances),
		Events:     events,
	}

	scores := make([]core.DomainScore, 0, len(ScoringDomains))
	var total float64
	for _, domain := range ScoringDomains {
		var score core.DomainScore
		var err error
		if evaluator != nil {
			score, err = evaluator.EvaluateDomain(ctx, domain, evidence)
		} else {
			err = fmt.Errorf("no evaluator configured")
		}
		if err != nil {
			log.Printf("[%s] %s evaluation failed, using heuristic: %v", jobID, domain.Name, err)
			score = heuristicScore(domain, evidence)
		}
		scores = append(scores, score)
		total += score.Score
	}

	maxTotal := domainMaxScore * float64(len(ScoringDomains))
	percentage := 0.0
	if maxTotal > 0 {
		percentage = total / maxTotal * 100
	}
	return scores, total, percentage, gradeFor(percentage), buildFeedback(scores)
}

func gradeFor(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}

// buildFeedback turns domain results into actionable lines, weakest first.
func buildFeedback(scores []core.DomainScore) []string {
	var feedback []string
	for _, s := range scores {
		switch {
		case s.Score < 5:
			feedback = append(feedback, fmt.Sprintf("%s needs significant improvement (%.1f/10)", s.Domain, s.Score))
		case s.Score < 7:
			feedback = append(feedback, fmt.Sprintf("%s has room for improvement (%.1f/10)", s.Domain, s.Score))
		}
		for criterion, met := range s.Criteria {
			if !met {
				feedback = append(feedback, fmt.Sprintf("%s: not observed: %s", s.Domain, criterion))
			}
		}
	}
	if len(feedback) == 0 {
		feedback = append(feedback, "Strong performance across all assessed domains")
	}
	return feedback
}

// clinicianTranscript flattens the clinician-side utterances with timestamps
// so the evaluator sees who said what and when.
func clinicianTranscript(utterances []core.Utterance) string {
	var sb strings.Builder
	for _, u := range utterances {
		fmt.Fprintf(&sb, "[%.1fs] %s: %s\n", u.Start, u.Role, u.Text)
	}
	return sb.String()
}

// ---------------- Local heuristic fallback ----------------

// heuristicScore counts cue hits in the event timeline. It is deterministic
// and isolated per domain. Base score 5; each positive cue type observed adds
// 1.5, each negative cue type observed subtracts 1.5, clamped to [0,10].
func heuristicScore(domain Domain, evidence Evidence) core.DomainScore {
	observed := map[string]bool{}
	for _, ev := range evidence.Events {
		observed[ev.Type] = true
	}

	score := 5.0
	criteria := map[string]bool{}
	for _, cue := range domain.PositiveCues {
		if observed[cue] {
			score += 1.5
			criteria[cue] = true
		} else {
			criteria[cue] = false
		}
	}
	for _, cue := range domain.NegativeCues {
		if observed[cue] {
			score -= 1.5
		}
	}
	if score > domainMaxScore {
		score = domainMaxScore
	}
	if score < 0 {
		score = 0
	}

	return core.DomainScore{
		Domain:    domain.Name,
		Score:     score,
		Criteria:  criteria,
		Notes:     "scored by local cue heuristic",
		Heuristic: true,
	}
}

// ---------------- Chat implementation ----------------

type ChatEvaluator struct {
	cli   *openai.Client
	model string
}

func NewChatEvaluator(cfg *config.Config) *ChatEvaluator {
	return &ChatEvaluator{cli: newOpenAIClient(cfg), model: cfg.ChatModel}
}

func (e *ChatEvaluator) EvaluateDomain(ctx context.Context, domain Domain, evidence Evidence) (core.DomainScore, error) {
	prompt := buildEvalPrompt(domain, evidence)

	resp, err := e.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return core.DomainScore{}, err
	}
	if len(resp.Choices) == 0 {
		return core.DomainScore{}, fmt.Errorf("empty evaluation response")
	}
	return parseEvalResponse(domain, resp.Choices[0].Message.Content)
}

func buildEvalPrompt(domain Domain, evidence Evidence) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are assessing the %q domain of a recorded clinical encounter.\n\n", domain.Name)
	sb.WriteString("Criteria:\n")
	for _, c := range domain.Criteria {
		fmt.Fprintf(&sb, "- %s\n", c)
	}
	sb.WriteString("\nTranscript:\n")
	sb.WriteString(evidence.Transcript)
	sb.WriteString("\nObserved behavioral events:\n")
	for _, ev := range evidence.Events {
		fmt.Fprintf(&sb, "- [%.1fs] %s (%s)\n", ev.TimeSec, ev.Type, ev.Severity)
	}
	sb.WriteString(`
Reply with a JSON object:
{"score": <number 0-10>, "criteria": {"<criterion>": <true|false>, ...}, "notes": "<2-3 sentence rationale>"}
Include every listed criterion in the criteria map.`)
	return sb.String()
}

// Some providers wrap the JSON body in a markdown fence despite the response
// format hint.
var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func parseEvalResponse(domain Domain, content string) (core.DomainScore, error) {
	if m := jsonFenceRe.FindStringSubmatch(content); m != nil {
		content = m[1]
	}

	var parsed struct {
		Score    float64         `json:"score"`
		Criteria map[string]bool `json:"criteria"`
		Notes    string          `json:"notes"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return core.DomainScore{}, fmt.Errorf("parse evaluation response: %v", err)
	}
	if parsed.Score < 0 || parsed.Score > domainMaxScore {
		return core.DomainScore{}, fmt.Errorf("evaluation score %.1f out of range", parsed.Score)
	}

	return core.DomainScore{
		Domain:   domain.Name,
		Score:    parsed.Score,
		Criteria: parsed.Criteria,
		Notes:    parsed.Notes,
	}, nil
}
