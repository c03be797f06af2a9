package domain

import "time"

type TriggerType string

const (
	TriggerInterval TriggerType = "interval"
	TriggerCron     TriggerType = "cron"
)

// TriggerSpec is the wire form of a trigger: "30m"/"1h"/"2d" for intervals,
// a 5-field crontab expression for cron.
type TriggerSpec struct {
	Type     TriggerType
	Value    string
	Timezone string // IANA timezone for cron triggers, defaults to UTC
}

// TaskSpec describes what to ask the Agent Execution Backend to do.
type TaskSpec struct {
	TargetID string
	Name     string
	Payload  string
	Timeout  time.Duration
}

type NotificationPolicy struct {
	OnSuccess bool
	OnWarning bool
	OnError   bool
	Channel   string
}

// Job is a scheduled, recurring monitoring task. ID equals the monitored target's id.
type Job struct {
	ID   string
	Name string

	Trigger      TriggerSpec
	Task         TaskSpec
	Notification NotificationPolicy

	Enabled   bool
	NextRunAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName falls back to the job id when no name was given.
func (j Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}
