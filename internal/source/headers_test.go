package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailwatch/internal/model"
)

func TestParseHeaders_Fallbacks(t *testing.T) {
	f := ParseHeaders(nil, time.UTC)
	assert.Equal(t, model.NoSubject, f.Subject)
	assert.Equal(t, model.UnknownSender, f.Sender)
	assert.Equal(t, model.UnknownDate, f.Date)
}

func TestParseHeaders_CaseInsensitiveLastWins(t *testing.T) {
	f := ParseHeaders([]Header{
		{Name: "SUBJECT", Value: "first"},
		{Name: "from", Value: "alice@example.com"},
		{Name: "Subject", Value: "second"},
	}, time.UTC)
	assert.Equal(t, "second", f.Subject)
	assert.Equal(t, "alice@example.com", f.Sender)
}

func TestParseHeaders_DecodesEncodedWords(t *testing.T) {
	f := ParseHeaders([]Header{
		{Name: "Subject", Value: "=?UTF-8?B?SGVsbG8gV29ybGQ=?="},
	}, time.UTC)
	assert.Equal(t, "Hello World", f.Subject)
}

func TestParseHeaders_MissingDateDoesNotAffectOtherFields(t *testing.T) {
	f := ParseHeaders([]Header{
		{Name: "Subject", Value: "Invoice"},
		{Name: "From", Value: "billing@example.com"},
	}, time.UTC)
	assert.Equal(t, model.UnknownDate, f.Date)
	assert.Equal(t, "Invoice", f.Subject)
	assert.Equal(t, "billing@example.com", f.Sender)
}

func TestFormatDate_ConvertsToDisplayZone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got := FormatDate("Tue, 15 Jan 2024 15:30:00 +0000", loc)
	assert.Equal(t, "2024-01-15 10:30:00 EST", got)

	got = FormatDate("Tue, 15 Jan 2024 15:30:00 +0100", time.UTC)
	assert.Equal(t, "2024-01-15 14:30:00 UTC", got)
}

func TestFormatDate_ObsoleteZoneNames(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Thu, 13 Feb 2020 14:30:00 EST", "2020-02-13 19:30:00 UTC"},
		{"Thu, 13 Feb 2020 14:30:00 EDT", "2020-02-13 18:30:00 UTC"},
		{"Thu, 13 Feb 2020 14:30:00 CST", "2020-02-13 20:30:00 UTC"},
		{"Thu, 13 Feb 2020 14:30:00 mdt", "2020-02-13 20:30:00 UTC"},
		{"Thu, 13 Feb 2020 14:30:00 PST (Pacific)", "2020-02-13 22:30:00 UTC"},
		{"Thu, 13 Feb 2020 14:30:00 GMT", "2020-02-13 14:30:00 UTC"},
		{"13 Feb 2020 14:30 PDT", "2020-02-13 21:30:00 UTC"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDate(tt.raw, time.UTC))
		})
	}
}

func TestFormatDate_ZoneCommentAccepted(t *testing.T) {
	got := FormatDate("Mon, 1 Jul 2024 08:00:00 +0000 (UTC)", time.UTC)
	assert.Equal(t, "2024-07-01 08:00:00 UTC", got)
}

func TestFormatDate_ZonelessDefaultsToUTC(t *testing.T) {
	got := FormatDate("Mon, 1 Jul 2024 08:00:00", time.UTC)
	assert.Equal(t, "2024-07-01 08:00:00 UTC", got)
}

func TestFormatDate_UnparseableReturnsRaw(t *testing.T) {
	assert.Equal(t, "sometime last week", FormatDate("sometime last week", time.UTC))
}
