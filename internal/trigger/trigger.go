// Package trigger computes fire times for interval and cron triggers.
package trigger

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/djlord-it/councilor/internal/domain"
)

// Trigger yields the first fire time strictly after a reference time.
type Trigger interface {
	Next(after time.Time) time.Time
	Kind() domain.TriggerType
	String() string
}

type Unit byte

const (
	Minute Unit = 'm'
	Hour   Unit = 'h'
	Day    Unit = 'd'
)

// Duration is the length of one unit.
func (u Unit) Duration() time.Duration {
	switch u {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

var reInterval = regexp.MustCompile(`^(\d+)(m|h|d)$`)

// Interval fires every Count units.
type Interval struct {
	Count int
	Unit  Unit
}

func (i Interval) Period() time.Duration {
	return time.Duration(i.Count) * i.Unit.Duration()
}

func (i Interval) Next(after time.Time) time.Time {
	return after.Add(i.Period())
}

func (i Interval) Kind() domain.TriggerType { return domain.TriggerInterval }

func (i Interval) String() string {
	return strconv.Itoa(i.Count) + string(i.Unit)
}

// Cron fires on a 5-field crontab schedule evaluated in loc.
type Cron struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

func (c *Cron) Next(after time.Time) time.Time {
	return c.sched.Next(after.In(c.loc)).UTC()
}

func (c *Cron) Kind() domain.TriggerType { return domain.TriggerCron }

func (c *Cron) String() string { return c.expr }

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

var defaultParser = NewParser()

// Parse validates spec with the default parser.
func Parse(spec domain.TriggerSpec) (Trigger, error) {
	return defaultParser.Parse(spec)
}

// Parse validates spec and returns a typed trigger.
// Every failure is a *domain.ValidationError.
func (p *Parser) Parse(spec domain.TriggerSpec) (Trigger, error) {
	value := strings.TrimSpace(spec.Value)
	if value == "" {
		return nil, &domain.ValidationError{Field: "trigger.value", Message: "required"}
	}

	switch spec.Type {
	case domain.TriggerInterval:
		return parseInterval(value)
	case domain.TriggerCron:
		return p.parseCron(value, spec.Timezone)
	default:
		return nil, &domain.ValidationError{
			Field:   "trigger.type",
			Message: fmt.Sprintf("must be 'interval' or 'cron', got %q", spec.Type),
		}
	}
}

func parseInterval(value string) (Interval, error) {
	m := reInterval.FindStringSubmatch(value)
	if m == nil {
		return Interval{}, &domain.ValidationError{
			Field:   "trigger.value",
			Message: fmt.Sprintf("invalid interval %q (use <number><m|h|d>, e.g. 30m, 1h, 2d)", value),
		}
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Interval{}, &domain.ValidationError{Field: "trigger.value", Message: fmt.Sprintf("interval count: %v", err)}
	}
	if n <= 0 {
		return Interval{}, &domain.ValidationError{Field: "trigger.value", Message: "interval must be > 0"}
	}
	unit := Unit(m[2][0])
	if int64(n) > math.MaxInt64/int64(unit.Duration()) {
		return Interval{}, &domain.ValidationError{
			Field:   "trigger.value",
			Message: fmt.Sprintf("interval %q is too large", value),
		}
	}
	return Interval{Count: n, Unit: unit}, nil
}

func (p *Parser) parseCron(expr, timezone string) (*Cron, error) {
	if n := len(strings.Fields(expr)); n != 5 {
		return nil, &domain.ValidationError{
			Field:   "trigger.value",
			Message: fmt.Sprintf("cron expression must have 5 fields, got %d", n),
		}
	}
	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, &domain.ValidationError{Field: "trigger.value", Message: fmt.Sprintf("parse cron: %v", err)}
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, &domain.ValidationError{Field: "trigger.timezone", Message: fmt.Sprintf("load timezone: %v", err)}
	}

	return &Cron{expr: expr, sched: sched, loc: loc}, nil
}

// NextFireAfter returns the first fire time strictly after reference. When that
// time is not after now (downtime, or an overrunning run), it returns the first
// fire time after now instead, so missed slots collapse into at most one
// catch-up run.
func NextFireAfter(t Trigger, reference, now time.Time) time.Time {
	next := t.Next(reference)
	if next.After(now) {
		return next
	}
	return t.Next(now)
}
