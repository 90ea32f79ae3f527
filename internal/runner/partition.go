package runner

import "github.com/veilmsg/inboxq/internal/jobstore"

// Domain keys are prefixed so an opaque group id can never collide with the
// shared default domain.
const defaultDomain = "u/"

func domainKey(j *jobstore.Job) string {
	if len(j.GroupID) > 0 {
		return "g/" + string(j.GroupID)
	}
	return defaultDomain
}

// partitionByDomain splits a batch into per-domain sub-sequences, preserving
// the batch's relative order within each.
func partitionByDomain(batch []*jobstore.Job) map[string][]*jobstore.Job {
	out := make(map[string][]*jobstore.Job)
	for _, j := range batch {
		key := domainKey(j)
		out[key] = append(out[key], j)
	}
	return out
}
