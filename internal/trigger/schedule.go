package trigger

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind is the normalized form of a schedule string.
type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

func (k Kind) String() string {
	if k == KindInterval {
		return "interval"
	}
	return "cron"
}

// Schedule is a parsed schedule string.
//
// Accepted forms:
//   - cron: "*/5 * * * *", "0 30 3 * * *" (optional seconds), "@hourly", "@every 55m"
//   - Go duration interval: "55m", "2h30m"
//   - HH:MM interval: "00:50" (50 minutes), "02:30"
//
// "cron:" forces cron parsing; "interval:" and "every:" force an interval.
type Schedule struct {
	Kind  Kind
	Cron  string
	Every time.Duration
	Raw   string
}

// Spec returns the expression handed to the cron runner.
func (s Schedule) Spec() string {
	if s.Kind == KindInterval {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

var ErrBadSchedule = errors.New("invalid schedule")

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// parser accepts 5- and 6-field expressions plus descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule normalizes raw and, for cron forms, checks the expression.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("%w: schedule required", ErrBadSchedule)
	}
	low := strings.ToLower(s)

	if rest, ok := cutPrefix(s, low, "cron:"); ok {
		return parseCron(raw, rest)
	}
	for _, p := range []string{"interval:", "every:"} {
		if rest, ok := cutPrefix(s, low, p); ok {
			return parseInterval(raw, rest)
		}
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(raw, s)
	}
	if sch, err := parseInterval(raw, s); err == nil {
		return sch, nil
	}
	return Schedule{}, fmt.Errorf(
		"%w %q (use cron like '*/5 * * * *', HH:MM like '02:30', or a duration like '55m')",
		ErrBadSchedule, raw,
	)
}

func cutPrefix(s, low, prefix string) (string, bool) {
	if !strings.HasPrefix(low, prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func parseCron(raw, expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("%w: cron expression required", ErrBadSchedule)
	}
	if _, err := parser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("%w: cron %q: %w", ErrBadSchedule, expr, err)
	}
	return Schedule{Kind: KindCron, Cron: expr, Raw: raw}, nil
}

func parseInterval(raw, v string) (Schedule, error) {
	if v == "" {
		return Schedule{}, fmt.Errorf("%w: interval required", ErrBadSchedule)
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("%w: invalid minutes in %q", ErrBadSchedule, v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Schedule{}, fmt.Errorf("%w: interval %q (use HH:MM or a duration like '55m')", ErrBadSchedule, v)
		}
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("%w: interval must be > 0", ErrBadSchedule)
	}
	return Schedule{Kind: KindInterval, Every: d, Raw: raw}, nil
}
