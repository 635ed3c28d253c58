package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/hako/durafmt"
	"gopkg.in/yaml.v3"
)

// ISODuration wraps a time.Duration parsed from an ISO-8601 period string
// such as "P79D" or "PT1H", the format the ceremony config and policy files
// use throughout (spec §6, §9 "Durations are ISO-8601, parsed once at
// load"). No ISO-8601 period library appears anywhere in the retrieval
// pack, so the parser body below is stdlib regexp; String rendering
// delegates to github.com/hako/durafmt, which the corpus already uses for
// human-readable duration formatting.
type ISODuration struct {
	time.Duration
}

var isoPeriodPattern = regexp.MustCompile(
	`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses an ISO-8601 period (not calendar-aware: years are
// 365 days, months are 30 days, matching the fixed-cycle durations a root
// ceremony actually deals in).
func ParseISODuration(s string) (ISODuration, error) {
	m := isoPeriodPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "" {
		return ISODuration{}, fmt.Errorf("config: invalid ISO-8601 duration %q", s)
	}

	var total time.Duration
	units := []struct {
		group string
		unit  time.Duration
	}{
		{m[1], 365 * 24 * time.Hour}, // years
		{m[2], 30 * 24 * time.Hour},  // months
		{m[3], 7 * 24 * time.Hour},   // weeks
		{m[4], 24 * time.Hour},       // days
		{m[5], time.Hour},            // hours
		{m[6], time.Minute},          // minutes
	}
	for _, u := range units {
		if u.group == "" {
			continue
		}
		n, err := strconv.Atoi(u.group)
		if err != nil {
			return ISODuration{}, fmt.Errorf("config: invalid ISO-8601 duration %q: %w", s, err)
		}
		total += time.Duration(n) * u.unit
	}
	if m[7] != "" {
		secs, err := strconv.ParseFloat(m[7], 64)
		if err != nil {
			return ISODuration{}, fmt.Errorf("config: invalid ISO-8601 duration %q: %w", s, err)
		}
		total += time.Duration(secs * float64(time.Second))
	}
	return ISODuration{total}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler so ISODuration fields decode
// directly from their "P79D"-shaped scalars.
func (d *ISODuration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseISODuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// String renders the duration the way operators expect to see it in the
// audit log (spec §9's fmt_timedelta), via durafmt.
func (d ISODuration) String() string {
	return durafmt.Parse(d.Duration).String()
}
