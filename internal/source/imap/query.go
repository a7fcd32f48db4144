package imap

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/emersion/go-imap/v2"
)

// DefaultMailbox is selected when the query names no label.
const DefaultMailbox = "INBOX"

// Query is a Gmail-style search string translated for an IMAP server.
type Query struct {
	Mailbox  string
	Criteria *imap.SearchCriteria
	// Ignored lists tokens that have no IMAP equivalent.
	Ignored []string
}

// Translate converts a Gmail search string into a mailbox and IMAP
// SEARCH criteria. Relative dates are resolved against now.
//
// Supported: is:unread, is:read, newer_than:N[dwmy], from:, to:,
// subject:, label: / in: and bare words, which match anywhere in the
// message text. Double quotes group words into one term.
func Translate(query string, now time.Time) Query {
	q := Query{
		Mailbox:  DefaultMailbox,
		Criteria: &imap.SearchCriteria{},
	}

	for _, tok := range tokenize(query) {
		key, value, ok := strings.Cut(tok, ":")
		if !ok || value == "" || key == "" {
			q.Criteria.Text = append(q.Criteria.Text, unquote(tok))
			continue
		}
		value = unquote(value)

		switch strings.ToLower(key) {
		case "is":
			switch strings.ToLower(value) {
			case "unread":
				q.Criteria.NotFlag = append(q.Criteria.NotFlag, imap.FlagSeen)
			case "read":
				q.Criteria.Flag = append(q.Criteria.Flag, imap.FlagSeen)
			default:
				q.Ignored = append(q.Ignored, tok)
			}
		case "newer_than":
			since, err := relativeSince(value, now)
			if err != nil {
				q.Ignored = append(q.Ignored, tok)
				continue
			}
			if q.Criteria.Since.IsZero() || since.After(q.Criteria.Since) {
				q.Criteria.Since = since
			}
		case "from":
			q.Criteria.Header = append(q.Criteria.Header, imap.SearchCriteriaHeaderField{Key: "From", Value: value})
		case "to":
			q.Criteria.Header = append(q.Criteria.Header, imap.SearchCriteriaHeaderField{Key: "To", Value: value})
		case "subject":
			q.Criteria.Header = append(q.Criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: value})
		case "label", "in":
			q.Mailbox = mailboxName(value)
		default:
			q.Ignored = append(q.Ignored, tok)
		}
	}

	return q
}

// relativeSince parses values such as 7d, 2w, 1m and 1y.
func relativeSince(value string, now time.Time) (time.Time, error) {
	if len(value) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", value)
	}
	n, err := strconv.Atoi(value[:len(value)-1])
	if err != nil || n < 0 {
		return time.Time{}, fmt.Errorf("invalid duration %q", value)
	}

	switch unicode.ToLower(rune(value[len(value)-1])) {
	case 'd':
		return now.AddDate(0, 0, -n), nil
	case 'w':
		return now.AddDate(0, 0, -7*n), nil
	case 'm':
		return now.AddDate(0, -n, 0), nil
	case 'y':
		return now.AddDate(-n, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("invalid duration unit in %q", value)
	}
}

func mailboxName(label string) string {
	if strings.EqualFold(label, "inbox") {
		return DefaultMailbox
	}
	return label
}

// tokenize splits on whitespace outside double quotes.
func tokenize(s string) []string {
	var (
		tokens  []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			current.WriteRune(r)
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
