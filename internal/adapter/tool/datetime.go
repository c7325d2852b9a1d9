package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/tracer"
)

// DateTimeToolName is the name models call the datetime tool by.
const DateTimeToolName = "datetime"

// DateTimeTool reports calendar facts about the current moment, or about a
// given RFC 3339 timestamp, in the local or a named IANA time zone.
type DateTimeTool struct {
	now    func() time.Time
	loc    *time.Location
	logger *slog.Logger
}

// NewDateTimeTool creates the tool using the process clock and time.Local.
func NewDateTimeTool(logger *slog.Logger) *DateTimeTool {
	return &DateTimeTool{now: time.Now, loc: time.Local, logger: logger}
}

// WithClock replaces the clock and default location.
func (t *DateTimeTool) WithClock(now func() time.Time, loc *time.Location) *DateTimeTool {
	t.now = now
	if loc != nil {
		t.loc = loc
	}
	return t
}

func (t *DateTimeTool) Name() string { return DateTimeToolName }
func (t *DateTimeTool) Description() string {
	return "Returns the current date and time with weekday, ISO week, day of year, zodiac sign and time zone. " +
		"Use action \"convert\" with an RFC 3339 time to describe another moment."
}

func (t *DateTimeTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["now", "convert"], "description": "now (default) or convert"},
				"timezone": {"type": "string", "description": "IANA time zone such as Asia/Shanghai; defaults to local time"},
				"time": {"type": "string", "description": "RFC 3339 timestamp, required for convert"}
			},
			"additionalProperties": false
		}`),
	}
}

type dateTimeParams struct {
	Action   string `json:"action"`
	Timezone string `json:"timezone"`
	Time     string `json:"time"`
}

// DateTimeFacts is the tool's JSON reply.
type DateTimeFacts struct {
	Time      string `json:"time"`
	Date      string `json:"date"`
	Clock     string `json:"clock"`
	Weekday   string `json:"weekday"`
	ISOWeek   int    `json:"iso_week"`
	DayOfYear int    `json:"day_of_year"`
	Zodiac    string `json:"zodiac"`
	Timezone  string `json:"timezone"`
	UTCOffset string `json:"utc_offset"`
	Unix      int64  `json:"unix"`
}

func (t *DateTimeTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, DateTimeToolName, t.logger, params, Dispatch(Actions[dateTimeParams]{
		Field:   func(p dateTimeParams) string { return p.Action },
		Default: "now",
		Table: map[string]Handler[dateTimeParams]{
			"now":     t.handleNow,
			"convert": t.handleConvert,
		},
	}))
}

func (t *DateTimeTool) handleNow(ctx context.Context, p dateTimeParams) (any, error) {
	loc, err := t.location(p.Timezone)
	if err != nil {
		return nil, err
	}
	return describeTime(t.now().In(loc)), nil
}

func (t *DateTimeTool) handleConvert(ctx context.Context, p dateTimeParams) (any, error) {
	if p.Time == "" {
		return Failf("'time' is required for convert")
	}
	ts, err := time.Parse(time.RFC3339, p.Time)
	if err != nil {
		return Failf("invalid time %q: want RFC 3339, e.g. 2024-05-01T08:00:00Z", p.Time)
	}
	loc, err := t.location(p.Timezone)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(tracer.StringAttr("tool.timezone", loc.String()))
	return describeTime(ts.In(loc)), nil
}

func (t *DateTimeTool) location(name string) (*time.Location, error) {
	if name == "" {
		return t.loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown time zone %q", domain.ErrInvalidInput, name)
	}
	return loc, nil
}

func describeTime(ts time.Time) DateTimeFacts {
	_, week := ts.ISOWeek()
	zone, _ := ts.Zone()
	return DateTimeFacts{
		Time:      ts.Format(time.RFC3339),
		Date:      ts.Format(time.DateOnly),
		Clock:     ts.Format(time.TimeOnly),
		Weekday:   ts.Weekday().String(),
		ISOWeek:   week,
		DayOfYear: ts.YearDay(),
		Zodiac:    zodiacSign(ts.Month(), ts.Day()),
		Timezone:  zone,
		UTCOffset: ts.Format("-07:00"),
		Unix:      ts.Unix(),
	}
}

// zodiacStarts holds the first day of each sign, indexed by month. A date
// before the start belongs to the previous sign.
var zodiacStarts = [12]struct {
	day  int
	sign string
}{
	{20, "Aquarius"}, {19, "Pisces"}, {21, "Aries"}, {20, "Taurus"},
	{21, "Gemini"}, {21, "Cancer"}, {23, "Leo"}, {23, "Virgo"},
	{23, "Libra"}, {23, "Scorpio"}, {22, "Sagittarius"}, {22, "Capricorn"},
}

func zodiacSign(m time.Month, day int) string {
	i := int(m) - 1
	if day >= zodiacStarts[i].day {
		return zodiacStarts[i].sign
	}
	return zodiacStarts[(i+11)%12].sign
}
