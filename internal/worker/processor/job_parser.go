package processor

import (
	v0 "refinery/internal/contracts/conversion/v0"
	"refinery/internal/worker/util"
)

// JobParser turns a trigger message into jobs, one per created object.
type JobParser struct {
	newID func() string
}

func NewJobParser() *JobParser {
	return &JobParser{newID: func() string { return util.NewID("job") }}
}

func (jp *JobParser) Parse(body []byte) ([]*Job, error) {
	refs, err := v0.ParseEvent(body)
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(refs))
	for _, r := range refs {
		jobs = append(jobs, newJob(jp.newID(), r.Bucket, r.Key, r.Metadata))
	}
	return jobs, nil
}
