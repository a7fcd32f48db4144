package source

import (
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailwatch/internal/model"
)

// dateLayout renders dates as "2024-01-31 09:15:00 CET".
const dateLayout = "2006-01-02 15:04:05 MST"

// Header is a single raw header field.
type Header struct {
	Name  string
	Value string
}

// Fields holds the decoded header values a summary needs.
type Fields struct {
	Subject string
	Sender  string
	Date    string
}

// ParseHeaders matches header names case-insensitively (last occurrence
// wins), decodes RFC 2047 encoded words and applies the fallbacks for
// missing subject, sender and date. Dates are converted to loc.
func ParseHeaders(headers []Header, loc *time.Location) Fields {
	latest := make(map[string]string, len(headers))
	for _, h := range headers {
		latest[strings.ToLower(h.Name)] = h.Value
	}

	fields := Fields{
		Subject: model.NoSubject,
		Sender:  model.UnknownSender,
		Date:    model.UnknownDate,
	}

	if v, ok := latest["subject"]; ok {
		fields.Subject = decodeText("Subject", v)
	}
	if v, ok := latest["from"]; ok {
		fields.Sender = decodeText("From", v)
	}
	if v, ok := latest["date"]; ok && strings.TrimSpace(v) != "" {
		fields.Date = FormatDate(v, loc)
	}

	return fields
}

// FormatDate parses an RFC 5322 date and renders it in loc. A value that
// cannot be parsed is returned unchanged.
func FormatDate(raw string, loc *time.Location) string {
	var h mail.Header
	h.Set("Date", numericObsZone(raw))
	t, err := h.Date()
	if err != nil || t.IsZero() {
		var ok bool
		if t, ok = parseZoneless(raw); !ok {
			return raw
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dateLayout)
}

// obsZones are the RFC 5322 section 4.3 zone names with a defined offset.
// Parsing them by name would yield a zero-offset zone.
var obsZones = map[string]string{
	"UT":  "+0000",
	"GMT": "+0000",
	"EST": "-0500",
	"EDT": "-0400",
	"CST": "-0600",
	"CDT": "-0500",
	"MST": "-0700",
	"MDT": "-0600",
	"PST": "-0800",
	"PDT": "-0700",
}

// numericObsZone replaces an obsolete zone name that follows the time of
// day with its numeric offset.
func numericObsZone(raw string) string {
	fields := strings.Fields(raw)
	for i := 1; i < len(fields); i++ {
		if !strings.Contains(fields[i-1], ":") {
			continue
		}
		if offset, ok := obsZones[strings.ToUpper(fields[i])]; ok {
			fields[i] = offset
			return strings.Join(fields, " ")
		}
		break
	}
	return raw
}

// zonelessLayouts cover senders that omit the zone; such dates are UTC.
var zonelessLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05",
	"Mon, 2 Jan 2006 15:04",
	"2 Jan 2006 15:04:05",
}

func parseZoneless(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decodeText decodes MIME encoded words, keeping the raw value when the
// encoding is malformed.
func decodeText(name, raw string) string {
	var h mail.Header
	h.Set(name, raw)
	text, err := h.Text(name)
	if err != nil {
		return raw
	}
	return text
}
