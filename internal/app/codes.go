package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
)

// codeAlphabet omits characters that are easy to confuse when typed (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// CodeOracle reports whether a candidate session code is taken.
type CodeOracle interface {
	CodeInUse(ctx context.Context, code string) (bool, error)
}

// CodeGenerator produces short, human-enterable session codes.
type CodeGenerator struct {
	oracle   CodeOracle
	length   int
	attempts int

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewCodeGenerator(oracle CodeOracle, length, attempts int) *CodeGenerator {
	return &CodeGenerator{
		oracle:   oracle,
		length:   length,
		attempts: attempts,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate returns a code the oracle reports as free, trying at most the
// configured number of candidates.
func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	for i := 0; i < g.attempts; i++ {
		code := g.candidate()
		inUse, err := g.oracle.CodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}
	return "", domain.ErrCodeGenerationExhausted
}

func (g *CodeGenerator) candidate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf := make([]byte, g.length)
	for i := range buf {
		buf[i] = codeAlphabet[g.rnd.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
