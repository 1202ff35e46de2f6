package titlegen

import (
	"math"
	"math/rand"
	"sort"
)

func sampleToken(logits []float32, seen []uint32, temperature, topP, penalty float64) uint32 {
	applyRepetitionPenalty(logits, seen, float32(penalty))
	probs := softmax(logits, temperature)
	return sampleTopP(probs, topP)
}

func applyRepetitionPenalty(logits []float32, seen []uint32, penalty float32) {
	for _, id := range seen {
		if int(id) >= len(logits) {
			continue
		}
		if logits[id] > 0 {
			logits[id] /= penalty
		} else {
			logits[id] *= penalty
		}
	}
}

func softmax(logits []float32, temperature float64) []float64 {
	maxLogit := logits[0]
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l-maxLogit) / temperature)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// sampleTopP draws from the smallest set of tokens whose cumulative
// probability reaches topP (nucleus sampling).
func sampleTopP(probs []float64, topP float64) uint32 {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })

	cut := len(idx)
	var cum float64
	for i, id := range idx {
		cum += probs[id]
		if cum >= topP {
			cut = i + 1
			break
		}
	}

	r := rand.Float64() * cum
	for _, id := range idx[:cut] {
		r -= probs[id]
		if r <= 0 {
			return uint32(id)
		}
	}
	return uint32(idx[0])
}
