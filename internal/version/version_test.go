package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	prev, prevSHA, prevTime := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = prev, prevSHA, prevTime })

	Version, GitSHA, BuildTime = "v0.3.1", "4f2a9c1", "2024-03-01T12:00:00Z"
	assert.Equal(t, "tracecapture v0.3.1 (4f2a9c1, built 2024-03-01T12:00:00Z)", String())
}
