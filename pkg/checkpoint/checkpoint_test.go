package checkpoint

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagsIncludeKernelVersion(t *testing.T) {
	f := flags(map[string]string{"services": "3", "history": "sql"})
	assert.NotEmpty(t, f["kernel-version"])
	assert.Equal(t, "3", f["services"])
	assert.Equal(t, "sql", f["history"])
}

func TestFlagsIncludePlatform(t *testing.T) {
	f := flags(nil)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, f["os"])
}
