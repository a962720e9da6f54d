package maintenance

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Off disables a task.
const Off = "off"

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NormalizeSpec resolves a configured schedule. Empty takes def, "off"
// disables the task and a bare duration such as "90s" means "@every 90s".
// Anything else must be a cron expression or descriptor.
func NormalizeSpec(raw, def string) (spec string, enabled bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = def
	}
	switch strings.ToLower(s) {
	case "", Off, "disabled", "false":
		return "", false, nil
	}
	if !strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, "@") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return "", false, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', '@every 5m' or a duration like '5m')", raw)
		}
		if d <= 0 {
			return "", false, fmt.Errorf("invalid schedule %q: interval must be > 0", raw)
		}
		s = "@every " + d.String()
	}
	if _, err := parser.Parse(s); err != nil {
		return "", false, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return s, true, nil
}
