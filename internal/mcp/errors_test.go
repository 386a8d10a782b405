package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	ferrors "github.com/larroy/fusearch/internal/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), ErrCodeTimeout},
		{"tool not found", ErrToolNotFound, ErrCodeMethodNotFound},
		{"validation", ferrors.ValidationError("bad query", nil), ErrCodeInvalidParams},
		{"storage unavailable", ferrors.StorageUnavailable("/d/.fusearch.db", nil), ErrCodeIndexNotFound},
		{"search failed", ferrors.New(ferrors.ErrCodeSearchFailed, "search failed", nil), ErrCodeSearchFailed},
		{"other coded", ferrors.InternalError("boom", nil), ErrCodeInternalError},
		{"plain", errors.New("boom"), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, MapError(tt.err).Code)
		})
	}
}

func TestMapError_NilAndPassthrough(t *testing.T) {
	assert.Nil(t, MapError(nil))

	orig := NewMethodNotFoundError("grep")
	assert.Same(t, orig, MapError(fmt.Errorf("call: %w", orig)))
	assert.Contains(t, orig.Error(), "grep")
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := ferrors.New(ferrors.ErrCodeCorruptIndex, "index is corrupt", nil).WithSuggestion("Run 'fusearch check --repair'")

	got := MapError(err)
	assert.Equal(t, ErrCodeIndexNotFound, got.Code)
	assert.Equal(t, "index is corrupt. Run 'fusearch check --repair'", got.Message)
}
