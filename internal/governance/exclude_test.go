package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExclusionFilter(t *testing.T) {
	f, err := NewExclusionFilter(DefaultExcludePatterns)
	require.NoError(t, err)

	assert.True(t, f.Excluded("/healthz"))
	assert.True(t, f.Excluded("/healthz/live"))
	assert.True(t, f.Excluded("/metrics"))
	assert.True(t, f.Excluded("/static/app.css"))
	assert.True(t, f.Excluded("/debug/pprof/heap"))

	assert.False(t, f.Excluded("/v1/usage/records"))
	assert.False(t, f.Excluded("/v1/healthzish")) // anchor holds
	assert.False(t, f.Excluded("/"))
}

func TestExclusionFilterAnyMatchExcludes(t *testing.T) {
	f, err := NewExclusionFilter([]string{`^/never`, `^/health.*`})
	require.NoError(t, err)

	assert.True(t, f.Excluded("/health"))
	assert.True(t, f.Excluded("/healthz"))
	assert.False(t, f.Excluded("/v1/items"))
}

func TestExclusionFilterBadPattern(t *testing.T) {
	_, err := NewExclusionFilter([]string{`^/ok`, `([`})
	require.Error(t, err)
}

func TestExclusionFilterEmpty(t *testing.T) {
	f, err := NewExclusionFilter(nil)
	require.NoError(t, err)
	assert.False(t, f.Excluded("/healthz"))
}
