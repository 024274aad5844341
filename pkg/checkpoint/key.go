package checkpoint

import (
	"strconv"
	"strings"
)

// Key identifies the checkpoint of one collection job. Jobs that differ in
// any field never share a checkpoint.
type Key struct {
	Query      string
	ResultType string
	Language   string
	// Collection is the target collection of the job.
	Collection string
	// Max is the job's post limit; 0 means unbounded.
	Max int
}

// String generates a deterministic key string.
// Format: sonet:checkpoint:result_type:language:collection:max:query
//
// Example:
//
//	sonet:checkpoint:recent:en:twitter_data:0:#golang
func (k Key) String() string {
	parts := []string{
		"sonet", "checkpoint",
		orDash(k.ResultType), orDash(k.Language), orDash(k.Collection),
		strconv.Itoa(k.Max),
	}
	// Query goes last because it may itself contain ':'.
	parts = append(parts, strings.TrimSpace(k.Query))
	return strings.Join(parts, ":")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
