package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("lulu down")
	err := Wrap(CodeDependency, cause, "shipping quote unavailable")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeDependency, err.Code())
	assert.Equal(t, "DEPENDENCY_ERROR: shipping quote unavailable", err.Error())
}

func TestCodeOfWrappedChain(t *testing.T) {
	inner := New(CodeNoCredits, "no credits")
	outer := fmt.Errorf("save creation: %w", inner)

	assert.Equal(t, CodeNoCredits, CodeOf(outer))
	assert.True(t, IsCode(outer, CodeNoCredits))
	assert.Equal(t, CodeInternal, CodeOf(stdErrors.New("plain")))
	assert.False(t, IsCode(nil, CodeInternal))
}

func TestMetadataFor(t *testing.T) {
	assert.Equal(t, http.StatusPaymentRequired, MetadataFor(CodeNoCredits).HTTPStatus)
	assert.True(t, MetadataFor(CodeDependency).Retryable)
	assert.Equal(t, http.StatusInternalServerError, MetadataFor(Code("bogus")).HTTPStatus)
}
