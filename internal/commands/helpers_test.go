package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tildaslashalef/kbpicker/internal/engine"
	"github.com/tildaslashalef/kbpicker/internal/knowledgebase"
	"github.com/tildaslashalef/kbpicker/internal/resource"
	"github.com/tildaslashalef/kbpicker/internal/stackai"
	"github.com/tildaslashalef/kbpicker/internal/status"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"auth", stackai.ErrAuthRequired, false},
		{"unauthorized response", &stackai.APIError{StatusCode: http.StatusUnauthorized}, false},
		{"no connection", engine.ErrNoConnection, false},
		{"cancelled", context.Canceled, false},
		{"missing path", fmt.Errorf("/x: %w", resource.ErrPathNotFound), false},
		{"bad request", &stackai.APIError{StatusCode: http.StatusBadRequest}, false},
		{"rate limited", &stackai.APIError{StatusCode: http.StatusTooManyRequests}, true},
		{"server error wrapped", &knowledgebase.RemoteError{Op: knowledgebase.OpUpdate, Err: &stackai.APIError{StatusCode: 502}}, true},
		{"transport", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 3, "test", func() error {
			calls++
			if calls < 2 {
				return &stackai.APIError{StatusCode: http.StatusServiceUnavailable}
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops on permanent failures", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 3, "test", func() error {
			calls++
			return stackai.ErrAuthRequired
		})
		assert.ErrorIs(t, err, stackai.ErrAuthRequired)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero retries runs once", func(t *testing.T) {
		calls := 0
		err := withRetry(ctx, 0, "test", func() error {
			calls++
			return errors.New("boom")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestSortAndFilterItems(t *testing.T) {
	items := []engine.Item{
		{Resource: resource.Resource{ID: "b", Path: "/b.txt", Kind: resource.KindFile}, Status: status.Indexed},
		{Resource: resource.Resource{ID: "z", Path: "/z", Kind: resource.KindDirectory}, Status: status.NotIndexed},
		{Resource: resource.Resource{ID: "a", Path: "/a.txt", Kind: resource.KindFile}, Status: status.NotIndexed},
	}

	sortItems(items)
	assert.Equal(t, []string{"z", "a", "b"}, []string{items[0].ID, items[1].ID, items[2].ID})

	indexed := onlyIndexed(items)
	assert.Len(t, indexed, 1)
	assert.Equal(t, "b", indexed[0].ID)
}
