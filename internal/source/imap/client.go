// Package imap implements source.Fetcher over IMAP, for mailboxes that
// are not reachable through the Gmail API.
package imap

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/extract"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
)

// Fetcher searches and reads messages over IMAP. Each call opens its own
// session; the mailbox chosen by the last Search is used by Fetch.
type Fetcher struct {
	cfg      model.IMAPConfig
	loc      *time.Location
	fullBody bool
	log      *zap.SugaredLogger
	now      func() time.Time

	mu      sync.Mutex
	mailbox string
}

var _ source.Fetcher = (*Fetcher)(nil)

// New returns a Fetcher for the server in cfg. cfg.Password must already
// be resolved.
func New(cfg model.IMAPConfig, loc *time.Location, fullBody bool, log *zap.SugaredLogger) *Fetcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Fetcher{
		cfg:      cfg,
		loc:      loc,
		fullBody: fullBody,
		log:      log,
		now:      time.Now,
		mailbox:  DefaultMailbox,
	}
}

// connect dials and authenticates. The session is closed when ctx ends;
// the returned func logs out and releases it.
func (f *Fetcher) connect(ctx context.Context) (*imapclient.Client, func(), error) {
	addr := f.cfg.Host + ":" + f.cfg.Port

	var (
		client *imapclient.Client
		err    error
	)
	if f.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	release := func() {
		stop()
		_ = client.Logout().Wait()
		_ = client.Close()
	}

	if err := client.Login(f.cfg.Username, f.cfg.Password).Wait(); err != nil {
		release()
		return nil, nil, fmt.Errorf("logging in as %s: %w", f.cfg.Username, err)
	}

	return client, release, nil
}

// Search translates query, selects its mailbox read-only and returns the
// newest matching ids first, at most limit of them.
func (f *Fetcher) Search(ctx context.Context, query string, limit int) ([]string, error) {
	q := Translate(query, f.now())
	for _, tok := range q.Ignored {
		f.log.Warnw("Ignoring unsupported IMAP query token", "token", tok)
	}

	client, release, err := f.connect(ctx)
	if err != nil {
		return nil, &source.SearchError{Query: query, Err: err}
	}
	defer release()

	selected, err := client.Select(q.Mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, &source.SearchError{Query: query, Err: fmt.Errorf("selecting %s: %w", q.Mailbox, err)}
	}

	f.mu.Lock()
	f.mailbox = q.Mailbox
	f.mu.Unlock()

	data, err := client.UIDSearch(q.Criteria, nil).Wait()
	if err != nil {
		return nil, &source.SearchError{Query: query, Err: err}
	}

	uids := data.AllUIDs()
	uids = newestFirst(uids, limit)

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, formatID(selected.UIDValidity, uid))
	}
	return ids, nil
}

// Fetch reads one message without setting \Seen. Ids from a previous
// UIDVALIDITY epoch or UIDs that no longer exist yield (nil, nil).
func (f *Fetcher) Fetch(ctx context.Context, id string) (*model.MessageSummary, error) {
	validity, uid, err := parseID(id)
	if err != nil {
		return nil, &source.FetchError{ID: id, Err: err}
	}

	f.mu.Lock()
	mailbox := f.mailbox
	f.mu.Unlock()

	client, release, err := f.connect(ctx)
	if err != nil {
		return nil, &source.FetchError{ID: id, Err: err}
	}
	defer release()

	selected, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, &source.FetchError{ID: id, Err: fmt.Errorf("selecting %s: %w", mailbox, err)}
	}
	if selected.UIDValidity != validity {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{Peek: true}
	cmd := client.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer cmd.Close()

	msg := cmd.Next()
	if msg == nil {
		if err := cmd.Close(); err != nil {
			return nil, &source.FetchError{ID: id, Err: err}
		}
		return nil, nil
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, &source.FetchError{ID: id, Err: fmt.Errorf("collecting message data: %w", err)}
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, nil
	}

	summary, err := f.summarize(id, raw)
	if err != nil {
		return nil, &source.FetchError{ID: id, Err: err}
	}
	return summary, nil
}

func (f *Fetcher) summarize(id string, raw []byte) (*model.MessageSummary, error) {
	parsed, err := parseMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	fields := source.ParseHeaders(parsed.Headers, f.loc)
	body := extract.Body(parsed.Payload, "")

	return &model.MessageSummary{
		ID:       id,
		ThreadID: parsed.MessageID,
		Subject:  fields.Subject,
		Sender:   fields.Sender,
		Date:     fields.Date,
		Body:     extract.Preview(body, f.fullBody),
	}, nil
}

func formatID(validity uint32, uid imap.UID) string {
	return strconv.FormatUint(uint64(validity), 10) + "." + strconv.FormatUint(uint64(uid), 10)
}

func parseID(id string) (uint32, imap.UID, error) {
	v, u, ok := strings.Cut(id, ".")
	if !ok {
		return 0, 0, fmt.Errorf("malformed IMAP message id %q", id)
	}
	validity, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed UIDVALIDITY in %q: %w", id, err)
	}
	uid, err := strconv.ParseUint(u, 10, 32)
	if err != nil || uid == 0 {
		return 0, 0, fmt.Errorf("malformed UID in %q", id)
	}
	return uint32(validity), imap.UID(uid), nil
}

// newestFirst sorts uids in descending order and keeps at most limit of
// them. A non-positive limit keeps all.
func newestFirst(uids []imap.UID, limit int) []imap.UID {
	slices.SortFunc(uids, func(a, b imap.UID) int { return cmp.Compare(b, a) })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	return uids
}
