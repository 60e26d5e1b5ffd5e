package notifications

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aymerick/raymond"
)

// Timestamp output layouts
const (
	dateTimeLayout = "Jan 2, 2006 3:04 PM MST"
	timeOnlyLayout = "3:04 PM MST"
	dateLayout     = "Jan 2, 2006"
)

// Layouts accepted for timestamp-with-offset values. Range endpoints arrive
// in the database's text form ("2025-03-15 14:00:00+00"); standalone
// timestamps usually arrive as RFC 3339.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Formatters are the custom formatting functions exposed to every template.
// All of them are total: on any parse failure they return the raw input
// unchanged, so one bad field never aborts an otherwise-renderable template.
type Formatters struct {
	loc *time.Location
}

// NewFormatters creates formatters rendering in the given display timezone.
func NewFormatters(loc *time.Location) *Formatters {
	return &Formatters{loc: loc}
}

// TimeRange formats a bracketed range literal like
// "[2025-03-15 14:00:00+00,2025-03-15 16:00:00+00)". A range within one
// calendar day collapses to a single date with two times; ranges spanning
// days render both endpoints in full.
func (f *Formatters) TimeRange(value interface{}) string {
	raw := toString(value)

	inner := strings.TrimSpace(raw)
	if len(inner) < 2 {
		return raw
	}
	if (inner[0] != '[' && inner[0] != '(') || (inner[len(inner)-1] != ']' && inner[len(inner)-1] != ')') {
		return raw
	}
	inner = inner[1 : len(inner)-1]

	parts := strings.SplitN(inner, ",", 2)
	if len(parts) != 2 {
		return raw
	}

	start, ok := parseTimestamp(parts[0])
	if !ok {
		return raw
	}
	end, ok := parseTimestamp(parts[1])
	if !ok {
		return raw
	}

	start = start.In(f.loc)
	end = end.In(f.loc)

	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sy == ey && sm == em && sd == ed {
		return fmt.Sprintf("%s - %s", start.Format(dateTimeLayout), end.Format(timeOnlyLayout))
	}
	return fmt.Sprintf("%s - %s", start.Format(dateTimeLayout), end.Format(dateTimeLayout))
}

// DateTime formats an ISO-8601 instant in the display timezone.
func (f *Formatters) DateTime(value interface{}) string {
	raw := toString(value)

	t, ok := parseTimestamp(raw)
	if !ok {
		return raw
	}
	return t.In(f.loc).Format(dateTimeLayout)
}

// Date formats a plain calendar date.
func (f *Formatters) Date(value interface{}) string {
	raw := toString(value)

	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return t.Format(dateLayout)
}

// Currency formats numeric values with two decimals and a dollar sign.
// Pre-formatted currency strings pass through unchanged.
func (f *Formatters) Currency(value interface{}) string {
	switch v := value.(type) {
	case float64:
		return fmt.Sprintf("$%.2f", v)
	case float32:
		return fmt.Sprintf("$%.2f", v)
	case int:
		return fmt.Sprintf("$%.2f", float64(v))
	case int64:
		return fmt.Sprintf("$%.2f", float64(v))
	}

	raw := toString(value)
	if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return fmt.Sprintf("$%.2f", n)
	}
	return raw
}

// Phone formats a bare 10-digit number as (XXX) XXX-XXXX. Anything else
// passes through unchanged.
func (f *Formatters) Phone(value interface{}) string {
	raw := toString(value)

	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) != 10 {
		return raw
	}
	return fmt.Sprintf("(%s) %s-%s", d[0:3], d[3:6], d[6:10])
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// toString normalizes the dynamic values raymond hands to helpers. Text
// flavor contexts wrap strings as SafeString; JSON numbers arrive as float64.
func toString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case raymond.SafeString:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
