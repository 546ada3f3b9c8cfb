package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsSentinelKind(t *testing.T) {
	errExpired := Sentinel(ErrValidation, "order expired")
	wrapped := fmt.Errorf("maker order 2: %w", errExpired)

	appErr := Wrap(wrapped)
	assert.Equal(t, ErrValidation, appErr.Type)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	assert.Equal(t, "maker order 2: order expired", appErr.Error())
	assert.True(t, errors.Is(appErr, errExpired))
}

func TestWrapUnknownIsInternal(t *testing.T) {
	appErr := Wrap(errors.New("boom"))
	assert.Equal(t, ErrInternal, appErr.Type)
	assert.Equal(t, http.StatusInternalServerError, appErr.HTTPStatus)
	assert.Nil(t, Wrap(nil))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrAccess, TypeOf(fmt.Errorf("x: %w", Sentinel(ErrAccess, "not admin"))))
	assert.Equal(t, ErrInternal, TypeOf(errors.New("plain")))
}
