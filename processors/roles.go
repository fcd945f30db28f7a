package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"videoAssess/config"
	"videoAssess/core"
)

const (
	RoleClinician = "clinician"
	RolePatient   = "patient"
	RoleOther     = "other"
)

// RoleClassifier maps anonymous speakers to semantic roles from a sample of
// each speaker's utterances.
type RoleClassifier interface {
	ClassifyRoles(ctx context.Context, samples map[int][]string) (map[int]string, error)
}

// Content cues: clinicians ask assessment questions, patients describe
// symptoms.
var (
	questionCues = regexp.MustCompile(`(?i)(what brings you|how long (have|has)|any allergies|on a scale of|rate your pain|tell me (about|more)|when did (this|it|the)|have you (ever|been|had)|does (it|this|that) (hurt|feel))`)
	symptomCues  = regexp.MustCompile(`(?i)(i('ve| have) been (feeling|having)|it hurts|my (chest|head|stomach|back|pain)|i feel (sick|dizzy|tired|nauseous|weak)|the pain (is|started|gets)|i (can't|couldn't) (sleep|breathe|eat))`)
)

const roleSampleSize = 5

// ResolveRoles assigns a semantic role to every utterance. A single-speaker
// transcript gets the default role without any classification call. With
// multiple speakers, local content cues decide when they are conclusive; the
// classifier breaks ties; a classifier error falls back to the positional
// heuristic (first to speak = clinician) rather than failing the job.
func ResolveRoles(ctx context.Context, utterances []core.Utterance, classifier RoleClassifier) []core.Utterance {
	speakers := speakerIDs(utterances)

	var roles map[int]string
	switch {
	case len(speakers) <= 1:
		roles = map[int]string{}
		for _, s := range speakers {
			roles[s] = RoleClinician
		}
	default:
		roles = rolesFromContent(utterances, speakers)
		if roles == nil && classifier != nil {
			classified, err := classifier.ClassifyRoles(ctx, sampleUtterances(utterances, speakers))
			if err != nil {
				log.Printf("role classification failed, using positional heuristic: %v", err)
			} else {
				roles = classified
			}
		}
		if roles == nil {
			roles = rolesByPosition(utterances, speakers)
		}
	}

	out := make([]core.Utterance, len(utterances))
	for i, u := range utterances {
		u.Role = roles[u.Speaker]
		if u.Role == "" {
			u.Role = RoleOther
		}
		out[i] = u
	}
	return out
}

func speakerIDs(utterances []core.Utterance) []int {
	seen := map[int]bool{}
	var ids []int
	for _, u := range utterances {
		if !seen[u.Speaker] {
			seen[u.Speaker] = true
			ids = append(ids, u.Speaker)
		}
	}
	sort.Ints(ids)
	return ids
}

// rolesFromContent scores each speaker's text against the question/symptom
// cue tables. Returns nil when the cues do not separate the speakers.
func rolesFromContent(utterances []core.Utterance, speakers []int) map[int]string {
	type score struct{ questions, symptoms int }
	scores := map[int]*score{}
	for _, s := range speakers {
		scores[s] = &score{}
	}
	for _, u := range utterances {
		sc := scores[u.Speaker]
		sc.questions += len(questionCues.FindAllString(u.Text, -1))
		sc.symptoms += len(symptomCues.FindAllString(u.Text, -1))
	}

	best, bestNet := 0, 0
	found := false
	for _, s := range speakers {
		net := scores[s].questions - scores[s].symptoms
		if !found || net > bestNet {
			best, bestNet, found = s, net, true
		}
	}
	if bestNet <= 0 {
		return nil // cues inconclusive
	}

	roles := map[int]string{best: RoleClinician}
	assignedPatient := false
	for _, s := range speakers {
		if s == best {
			continue
		}
		if !assignedPatient {
			roles[s] = RolePatient
			assignedPatient = true
		} else {
			roles[s] = RoleOther
		}
	}
	return roles
}

// rolesByPosition is the local-recovery path: first to speak leads the
// encounter.
func rolesByPosition(utterances []core.Utterance, speakers []int) map[int]string {
	roles := map[int]string{}
	if len(utterances) > 0 {
		roles[utterances[0].Speaker] = RoleClinician
	}
	assignedPatient := false
	for _, s := range speakers {
		if _, ok := roles[s]; ok {
			continue
		}
		if !assignedPatient {
			roles[s] = RolePatient
			assignedPatient = true
		} else {
			roles[s] = RoleOther
		}
	}
	return roles
}

func sampleUtterances(utterances []core.Utterance, speakers []int) map[int][]string {
	samples := map[int][]string{}
	for _, u := range utterances {
		if len(samples[u.Speaker]) < roleSampleSize {
			samples[u.Speaker] = append(samples[u.Speaker], u.Text)
		}
	}
	return samples
}

// ---------------- Chat implementation ----------------

type ChatRoleClassifier struct {
	cli   *openai.Client
	model string
}

func NewChatRoleClassifier(cfg *config.Config) *ChatRoleClassifier {
	return &ChatRoleClassifier{cli: newOpenAIClient(cfg), model: cfg.ChatModel}
}

func (c *ChatRoleClassifier) ClassifyRoles(ctx context.Context, samples map[int][]string) (map[int]string, error) {
	var sb strings.Builder
	sb.WriteString("These are utterance samples from a clinical encounter, one block per anonymous speaker.\n")
	sb.WriteString(`Assign each speaker one role: "clinician", "patient" or "other".` + "\n")
	sb.WriteString(`Reply with a JSON object mapping speaker id to role, e.g. {"0":"clinician","1":"patient"}.` + "\n\n")
	for id, texts := range samples {
		fmt.Fprintf(&sb, "Speaker %d:\n", id)
		for _, t := range texts {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
	}

	resp, err := c.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty classification response")
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &raw); err != nil {
		return nil, fmt.Errorf("parse classification response: %v", err)
	}
	roles := map[int]string{}
	for k, v := range raw {
		var id int
		if _, err := fmt.Sscanf(k, "%d", &id); err != nil {
			continue
		}
		switch v {
		case RoleClinician, RolePatient, RoleOther:
			roles[id] = v
		}
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("classification response contained no usable roles")
	}
	return roles, nil
}
