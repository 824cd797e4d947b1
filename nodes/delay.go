package nodes

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bintelAI/ai-workflow/core"
)

// Epoch is a fixed reference instant for checks that need a clock.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

var delayCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// ResumeAt computes when a delay started at now would release. A cron
// expression wins over a duration; with neither the delay releases
// immediately.
func ResumeAt(cfg core.DelayConfig, now time.Time) (time.Time, error) {
	if expr := strings.TrimSpace(cfg.Cron); expr != "" {
		upper := strings.ToUpper(expr)
		if strings.Contains(upper, "TZ=") {
			return time.Time{}, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
		}
		schedule, err := delayCronParser.Parse(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		return schedule.Next(now.UTC()), nil
	}
	if d := strings.TrimSpace(cfg.Duration); d != "" {
		wait, err := time.ParseDuration(d)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid duration %q: %w", d, err)
		}
		if wait < 0 {
			return time.Time{}, fmt.Errorf("invalid duration %q: must not be negative", d)
		}
		return now.Add(wait), nil
	}
	return now, nil
}

func simulateDelay(c core.DelayConfig, env Env) (map[string]any, error) {
	now := env.Now
	if now.IsZero() {
		now = Epoch
	}
	resume, err := ResumeAt(c, now)
	if err != nil {
		return nil, err
	}
	return output(map[string]any{
		"waited":   resume.Sub(now).String(),
		"resumeAt": resume.UTC().Format(time.RFC3339),
	}), nil
}
