package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the descriptor limit below which the check warns.
// The bleve backend keeps one descriptor per segment open.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks the soft RLIMIT_NOFILE.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors"}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot read limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (recommended: %d)", limit.Cur, MinFileDescriptors)
	if limit.Cur < MinFileDescriptors {
		result.Status = StatusWarn
		result.Details = "Run 'ulimit -n 10240' before indexing large corpora"
		return result
	}
	result.Status = StatusPass
	return result
}
