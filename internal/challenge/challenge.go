// Package challenge generates arithmetic prompts used to verify that a
// provider actually ran inference instead of returning a canned reply.
package challenge

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"

	"github.com/modelwatch/modelwatch/pkg/models"
)

var numberPattern = regexp.MustCompile(`-?\d+`)

// Generator produces randomized arithmetic challenges. The zero value
// draws from the global rand source and is safe for concurrent use;
// generators built with NewGenerator are only as safe as their source.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a Generator seeded from the given source. Pass a
// deterministic source in tests.
func NewGenerator(src rand.Source) *Generator {
	return &Generator{rng: rand.New(src)}
}

var defaultGenerator Generator

// Generate builds a challenge from the process-wide random source
func Generate() models.Challenge {
	return defaultGenerator.Generate()
}

func (g *Generator) intn(n int) int {
	if g.rng != nil {
		return g.rng.Intn(n)
	}
	return rand.Intn(n)
}

// Generate builds a challenge with two operands in [1, 50]. Half the
// time it asks for the sum, otherwise for the positive difference, so
// expected answers are always non-negative.
func (g *Generator) Generate() models.Challenge {
	a := g.intn(50) + 1
	b := g.intn(50) + 1

	var prompt string
	var answer int
	if g.intn(2) == 0 {
		prompt = fmt.Sprintf("%d + %d = ?", a, b)
		answer = a + b
	} else {
		larger, smaller := a, b
		if smaller > larger {
			larger, smaller = smaller, larger
		}
		prompt = fmt.Sprintf("%d - %d = ?", larger, smaller)
		answer = larger - smaller
	}

	return models.Challenge{
		Prompt:         prompt,
		ExpectedAnswer: strconv.Itoa(answer),
	}
}

// Validate reports whether the response contains the expected answer as
// an integer token. Matching is token-based rather than exact so that
// replies like "The answer is 42." pass. A response that merely echoes
// an operand equal to the answer also passes; the check is a liveness
// signal, not a proof of correctness.
func Validate(response, expectedAnswer string) bool {
	if response == "" || expectedAnswer == "" {
		return false
	}

	for _, token := range numberPattern.FindAllString(response, -1) {
		if token == expectedAnswer {
			return true
		}
	}

	return false
}
