package api

import (
	"fmt"
	"strings"

	"github.com/djlord-it/councilor/internal/domain"
	"github.com/djlord-it/councilor/internal/trigger"
)

const (
	maxJobIDLength = 255
	// MaxTimeoutSeconds caps task.timeout_seconds at one day.
	MaxTimeoutSeconds = 24 * 60 * 60
)

func validateJobID(id string) error {
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	if len(id) > maxJobIDLength {
		return fmt.Errorf("job id exceeds %d characters", maxJobIDLength)
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return fmt.Errorf("job id must not contain whitespace")
	}
	return nil
}

// validateScheduleJob checks the request shape. channels lists the
// configured notification channels; an empty list accepts any name.
func validateScheduleJob(req ScheduleJobRequest, channels []string) error {
	if req.Trigger.Type == "" {
		return fmt.Errorf("trigger.type is required")
	}
	if req.Trigger.Value == "" {
		return fmt.Errorf("trigger.value is required")
	}
	_, err := trigger.Parse(domain.TriggerSpec{
		Type:     domain.TriggerType(req.Trigger.Type),
		Value:    req.Trigger.Value,
		Timezone: req.Trigger.Timezone,
	})
	if err != nil {
		return err
	}

	if req.Task.TimeoutSeconds < 0 {
		return fmt.Errorf("task.timeout_seconds must not be negative")
	}
	if req.Task.TimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("task.timeout_seconds must be at most %d", MaxTimeoutSeconds)
	}

	if req.Notification != nil && req.Notification.Channel != "" && len(channels) > 0 {
		for _, c := range channels {
			if c == req.Notification.Channel {
				return nil
			}
		}
		return fmt.Errorf("notification.channel %q is not configured", req.Notification.Channel)
	}
	return nil
}
