package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewChromedpRendererDefaults(t *testing.T) {
	r := NewChromedpRenderer(RenderOptions{})

	assert.Equal(t, 60*time.Second, r.opts.Timeout)
	assert.Equal(t, 8, r.opts.Scrolls)
	assert.Equal(t, "body", r.opts.WaitForSelector)
	assert.False(t, r.opts.DisableHeadless)

	var _ Renderer = r
}
