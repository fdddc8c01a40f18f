package checkpoint

import (
	"io/ioutil"
	"runtime"
	"strings"
)

// kernelRelease is where Linux reports its release.
const kernelRelease = "/proc/sys/kernel/osrelease"

func getKernelVersion() string {
	if b, err := ioutil.ReadFile(kernelRelease); err == nil {
		if v := strings.TrimSpace(string(b)); v != "" {
			return v
		}
	}
	return runtime.GOOS + "-unknown"
}
