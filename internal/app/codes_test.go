package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

type scriptedOracle struct {
	taken int // number of leading candidates reported as taken
	err   error
	calls []string
}

func (o *scriptedOracle) CodeInUse(_ context.Context, code string) (bool, error) {
	o.calls = append(o.calls, code)
	if o.err != nil {
		return false, o.err
	}
	return len(o.calls) <= o.taken, nil
}

func TestCodeGeneratorAlphabetAndLength(t *testing.T) {
	gen := app.NewCodeGenerator(&scriptedOracle{}, 8, 3)
	for i := 0; i < 50; i++ {
		code, err := gen.Generate(context.Background())
		require.NoError(t, err)
		require.Len(t, code, 8)
		assert.Equal(t, -1, strings.IndexAny(code, "01ILOabcdefghijklmnopqrstuvwxyz"), code)
	}
}

func TestCodeGeneratorRetriesCollisions(t *testing.T) {
	oracle := &scriptedOracle{taken: 2}
	code, err := app.NewCodeGenerator(oracle, 6, 3).Generate(context.Background())
	require.NoError(t, err)
	assert.Len(t, oracle.calls, 3)
	assert.Equal(t, oracle.calls[2], code)
}

func TestCodeGeneratorGivesUp(t *testing.T) {
	oracle := &scriptedOracle{taken: 100}
	_, err := app.NewCodeGenerator(oracle, 6, 5).Generate(context.Background())
	assert.ErrorIs(t, err, domain.ErrCodeGenerationExhausted)
	assert.Len(t, oracle.calls, 5)
}

func TestCodeGeneratorPropagatesOracleErrors(t *testing.T) {
	boom := errors.New("redis down")
	_, err := app.NewCodeGenerator(&scriptedOracle{err: boom}, 6, 5).Generate(context.Background())
	assert.ErrorIs(t, err, boom)
}
