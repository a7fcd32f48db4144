// Package gmail implements source.Fetcher over the Gmail REST API.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/nhle/mailwatch/internal/extract"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
)

const (
	user = "me"

	// LinkPrefix is followed by the thread id to open a conversation in
	// the Gmail web UI.
	LinkPrefix = "https://mail.google.com/mail/u/0/#inbox/"
)

// Fetcher reads messages from a single Gmail account.
type Fetcher struct {
	svc      *gmailapi.Service
	loc      *time.Location
	fullBody bool
}

var _ source.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher whose API calls go through httpClient, which is
// expected to attach OAuth credentials. loc is the display timezone for
// message dates.
func New(ctx context.Context, httpClient *http.Client, loc *time.Location, fullBody bool, opts ...option.ClientOption) (*Fetcher, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Fetcher{svc: svc, loc: loc, fullBody: fullBody}, nil
}

// Search lists ids matching query, newest first as Gmail returns them.
func (f *Fetcher) Search(ctx context.Context, query string, limit int) ([]string, error) {
	resp, err := f.svc.Users.Messages.List(user).
		Q(query).
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, &source.SearchError{Query: query, Err: err}
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.Id == "" {
			continue
		}
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Fetch retrieves one message in full format. Messages that were deleted
// or are not visible to the account yield (nil, nil).
func (f *Fetcher) Fetch(ctx context.Context, id string) (*model.MessageSummary, error) {
	msg, err := f.svc.Users.Messages.Get(user, id).
		Format("full").
		Context(ctx).
		Do()
	if err != nil {
		if isGone(err) {
			return nil, nil
		}
		return nil, &source.FetchError{ID: id, Err: err}
	}
	return f.summarize(msg), nil
}

func (f *Fetcher) summarize(msg *gmailapi.Message) *model.MessageSummary {
	var headers []source.Header
	payload := extract.Part{}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if h == nil {
				continue
			}
			headers = append(headers, source.Header{Name: h.Name, Value: h.Value})
		}
		payload = toPart(msg.Payload)
	}

	fields := source.ParseHeaders(headers, f.loc)
	body := extract.Body(payload, msg.Snippet)

	summary := &model.MessageSummary{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Subject:  fields.Subject,
		Sender:   fields.Sender,
		Date:     fields.Date,
		Body:     extract.Preview(body, f.fullBody),
		Snippet:  msg.Snippet,
	}
	if msg.ThreadId != "" {
		summary.Link = LinkPrefix + msg.ThreadId
	}
	return summary
}

// toPart converts the API part tree. Gmail bounds nesting depth on its
// side, so plain recursion is fine here.
func toPart(p *gmailapi.MessagePart) extract.Part {
	part := extract.Part{MIMEType: p.MimeType}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		if child == nil {
			continue
		}
		part.Parts = append(part.Parts, toPart(child))
	}
	return part
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusForbidden
}
