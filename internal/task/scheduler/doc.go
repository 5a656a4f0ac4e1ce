// Package scheduler provides cron triggers.
//
// The scheduler is responsible only for:
//   - registering schedules by name
//   - computing next trigger times in the configured timezone
//   - calling the registered job, never two runs of the same schedule at once
//
// Anything slow belongs in the task engine; a job should hand work off and return.
package scheduler
