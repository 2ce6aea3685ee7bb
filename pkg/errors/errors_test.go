package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/finbarsvc/tickersvc/pkg/errors"
)

func TestExplainDoesNotMutateSentinel(t *testing.T) {
	err := apperrors.NotFound.Explain("ticker %q has no data", "PETR4.SA")

	assert.ErrorIs(t, err, apperrors.NotFound)
	assert.Contains(t, err.Error(), "PETR4.SA")
	assert.Empty(t, apperrors.NotFound.Message)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := apperrors.Unavailable.Explain("source unreachable").Wrap(cause)

	assert.ErrorIs(t, err, apperrors.Unavailable)
	assert.ErrorIs(t, err, cause)
}

func TestKindsAreDistinct(t *testing.T) {
	assert.NotErrorIs(t, apperrors.NotFound.Explain("x"), apperrors.Conflict)
	assert.NotErrorIs(t, apperrors.DataFormat.Explain("x"), apperrors.NotFound)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, apperrors.StatusOf(apperrors.Invalid.Explain("x")))
	assert.Equal(t, http.StatusNotFound, apperrors.StatusOf(apperrors.NotFound.Explain("x")))
	assert.Equal(t, http.StatusConflict, apperrors.StatusOf(apperrors.Conflict.Explain("x")))
	assert.Equal(t, http.StatusBadGateway, apperrors.StatusOf(apperrors.DataFormat.Explain("x")))
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.StatusOf(apperrors.Unavailable.Explain("x")))
	assert.Equal(t, http.StatusInternalServerError, apperrors.StatusOf(stderrors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, apperrors.StatusOf(apperrors.New("boom")))
}
