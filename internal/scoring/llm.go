package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LLMAlgorithm prompts a language model for a score instead of training a
// statistical classifier. The "classifier" blob is the rubric context for one
// criterion: the valid score values plus a few reference essays per score.
type LLMAlgorithm struct {
	client *openai.LLM
}

func NewLLMAlgorithm(model, apiKey string) (*LLMAlgorithm, error) {
	client, err := openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("could not create OpenAI client: %w", err)
	}
	return &LLMAlgorithm{client: client}, nil
}

const maxReferenceEssaysPerScore = 3

type llmClassifier struct {
	ValidScores     []int            `json:"valid_scores"`
	ReferenceEssays map[int][]string `json:"reference_essays"`
}

func (a *LLMAlgorithm) TrainClassifier(examples []Example) ([]byte, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("cannot train classifier without examples")
	}

	classifier := llmClassifier{ReferenceEssays: make(map[int][]string)}
	for _, example := range examples {
		if len(classifier.ReferenceEssays[example.Score]) < maxReferenceEssaysPerScore {
			classifier.ReferenceEssays[example.Score] = append(classifier.ReferenceEssays[example.Score], example.Text)
		}
	}

	for score := range classifier.ReferenceEssays {
		classifier.ValidScores = append(classifier.ValidScores, score)
	}
	sort.Ints(classifier.ValidScores)

	return json.Marshal(classifier)
}

const scoringPrompt = `You are grading a student essay against a rubric criterion.
The valid scores are: %s.
Below are reference essays with the score an instructor assigned to each.

%s
Respond with only the integer score for the student essay.`

func (a *LLMAlgorithm) Score(classifier []byte, essay string) (int, error) {
	var c llmClassifier
	if err := json.Unmarshal(classifier, &c); err != nil {
		return 0, fmt.Errorf("invalid classifier data: %w", err)
	}
	if len(c.ValidScores) == 0 {
		return 0, fmt.Errorf("classifier has no score values")
	}

	validScores := make([]string, len(c.ValidScores))
	for i, score := range c.ValidScores {
		validScores[i] = strconv.Itoa(score)
	}

	var references strings.Builder
	for _, score := range c.ValidScores {
		for _, text := range c.ReferenceEssays[score] {
			fmt.Fprintf(&references, "Score %d:\n%s\n\n", score, text)
		}
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(scoringPrompt, strings.Join(validScores, ", "), references.String())),
		llms.TextParts(llms.ChatMessageTypeHuman, essay),
	}

	resp, err := a.client.GenerateContent(context.Background(), messages)
	if err != nil {
		return 0, fmt.Errorf("error generating score: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("no response from model")
	}

	score, err := strconv.Atoi(strings.TrimSpace(resp.Choices[0].Content))
	if err != nil {
		return 0, fmt.Errorf("model returned non integer score '%s': %w", resp.Choices[0].Content, err)
	}

	for _, valid := range c.ValidScores {
		if score == valid {
			return score, nil
		}
	}
	return 0, fmt.Errorf("model returned out of range score %d", score)
}
