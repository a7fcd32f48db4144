package imap

import (
	"bytes"
	"errors"
	"io"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailwatch/internal/extract"
	"github.com/nhle/mailwatch/internal/source"
)

// maxPartDepth caps multipart nesting; deeper parts are dropped.
const maxPartDepth = 64

// parsedMessage is a raw RFC 5322 message reduced to what a summary needs.
type parsedMessage struct {
	MessageID string
	Headers   []source.Header
	Payload   extract.Part
}

// parseMessage reads the top-level headers and the MIME tree of raw.
// Transfer encodings and charsets are decoded; leaves are re-encoded as
// base64url so the tree matches what the Gmail API returns.
func parseMessage(raw []byte) (*parsedMessage, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !isRecoverable(err) {
		return nil, err
	}

	parsed := &parsedMessage{}

	fields := entity.Header.Fields()
	for fields.Next() {
		parsed.Headers = append(parsed.Headers, source.Header{
			Name:  fields.Key(),
			Value: fields.Value(),
		})
	}

	mh := mail.Header{Header: entity.Header}
	if id, err := mh.MessageID(); err == nil {
		parsed.MessageID = id
	}

	parsed.Payload = toPart(entity, 0)
	return parsed, nil
}

func toPart(entity *message.Entity, depth int) extract.Part {
	mimeType, _, _ := entity.Header.ContentType()
	if mimeType == "" {
		mimeType = "text/plain"
	}
	part := extract.Part{MIMEType: mimeType}

	mr := entity.MultipartReader()
	if mr == nil {
		body, err := io.ReadAll(entity.Body)
		if err == nil {
			part.Data = extract.Encode(body)
		}
		return part
	}

	if depth >= maxPartDepth {
		return part
	}
	for {
		child, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !isRecoverable(err) {
			break
		}
		if child == nil {
			break
		}
		part.Parts = append(part.Parts, toPart(child, depth+1))
	}
	return part
}

// isRecoverable reports errors after which go-message still returns a
// usable entity with the undecoded body.
func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
