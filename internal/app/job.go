package app

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"postpilot/internal/config"
	"postpilot/internal/pipeline"
)

var ErrNoJob = errors.WithHint(errors.New("no job configured"), "add a job section with text and an interval or at")

// JobSubmission converts the configured job into a pipeline submission.
func JobSubmission(jc *config.JobConfig) pipeline.Submission {
	sub := pipeline.Submission{Text: jc.Text}
	for _, v := range jc.Variables {
		sub.Variables = append(sub.Variables, pipeline.VariableSource{
			Name:   strings.TrimSpace(v.Name),
			Script: strings.TrimSpace(v.Script),
		})
	}
	return sub
}

// DispatchJob posts the configured job now or arms it on the scheduler.
func (a *App) DispatchJob(ctx context.Context, jc *config.JobConfig) (pipeline.Dispatched, error) {
	if jc == nil {
		return pipeline.Dispatched{}, ErrNoJob
	}
	settings, err := jc.Settings(a.loc, nil)
	if err != nil {
		return pipeline.Dispatched{}, errors.Wrap(err, "job")
	}
	p, err := a.Pipeline(ctx)
	if err != nil {
		return pipeline.Dispatched{}, err
	}
	return p.Dispatch(ctx, JobSubmission(jc), settings, a.sched)
}
