package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// CentroidAlgorithm is a bag-of-words nearest-centroid classifier. Training
// averages the term frequencies of all examples sharing a score value into
// one centroid per score; scoring picks the centroid with the highest cosine
// similarity to the essay. Deterministic, no external services.
type CentroidAlgorithm struct{}

func NewCentroidAlgorithm() *CentroidAlgorithm {
	return &CentroidAlgorithm{}
}

type centroidClassifier struct {
	Centroids map[int]map[string]float64 `json:"centroids"`
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func termFrequencies(text string) map[string]float64 {
	freqs := make(map[string]float64)
	for _, token := range tokenize(text) {
		freqs[token]++
	}
	return freqs
}

func (a *CentroidAlgorithm) TrainClassifier(examples []Example) ([]byte, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("cannot train classifier without examples")
	}

	sums := make(map[int]map[string]float64)
	counts := make(map[int]int)

	for _, example := range examples {
		if sums[example.Score] == nil {
			sums[example.Score] = make(map[string]float64)
		}
		for term, freq := range termFrequencies(example.Text) {
			sums[example.Score][term] += freq
		}
		counts[example.Score]++
	}

	classifier := centroidClassifier{Centroids: make(map[int]map[string]float64)}
	for score, terms := range sums {
		centroid := make(map[string]float64, len(terms))
		for term, sum := range terms {
			centroid[term] = sum / float64(counts[score])
		}
		classifier.Centroids[score] = centroid
	}

	return json.Marshal(classifier)
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, va := range a {
		normA += va * va
		if vb, ok := b[term]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (a *CentroidAlgorithm) Score(classifier []byte, essay string) (int, error) {
	var c centroidClassifier
	if err := json.Unmarshal(classifier, &c); err != nil {
		return 0, fmt.Errorf("invalid classifier data: %w", err)
	}
	if len(c.Centroids) == 0 {
		return 0, fmt.Errorf("classifier has no centroids")
	}

	essayFreqs := termFrequencies(essay)

	// Iterate scores in ascending order so ties resolve to the lower score.
	scores := make([]int, 0, len(c.Centroids))
	for score := range c.Centroids {
		scores = append(scores, score)
	}
	sort.Ints(scores)

	best := scores[0]
	bestSim := math.Inf(-1)
	for _, score := range scores {
		sim := cosineSimilarity(essayFreqs, c.Centroids[score])
		if sim > bestSim {
			best = score
			bestSim = sim
		}
	}

	return best, nil
}
