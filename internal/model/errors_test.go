package model

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestPipelineError_IsSentinel(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewError(ErrNetwork, "s1", cause).WithPhase(PhaseScraping).WithScraper("static").WithURL("https://acme.com")

	assert.True(t, errors.Is(err, ErrNetwork))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "session=s1")
	assert.Contains(t, err.Error(), "phase=SCRAPING")
	assert.Contains(t, err.Error(), "scraper=static")
	assert.Contains(t, err.Error(), "url=https://acme.com")
}

func TestPipelineError_SurvivesErisWrap(t *testing.T) {
	err := eris.Wrap(NewError(ErrVersionConflict, "s1", nil), "store: update")
	assert.True(t, errors.Is(err, ErrVersionConflict))

	var pe *PipelineError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "s1", pe.SessionID)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "validation", ErrorKind(Validationf("domain is required")))
	assert.Equal(t, "concurrent_execution", ErrorKind(NewError(ErrConcurrentExecution, "s1", nil)))
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
}
