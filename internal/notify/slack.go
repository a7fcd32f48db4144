package notify

import (
	"github.com/nhle/mailwatch/internal/model"
)

// Payload is a Slack incoming-webhook message.
type Payload struct {
	Channel  string  `json:"channel,omitempty"`
	Username string  `json:"username,omitempty"`
	Text     string  `json:"text"`
	Blocks   []Block `json:"blocks"`
}

// Block is a Block Kit layout block.
type Block struct {
	Type     string    `json:"type"`
	Text     *Text     `json:"text,omitempty"`
	Fields   []Text    `json:"fields,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// Text is a plain_text or mrkdwn text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Element is an interactive element inside an actions block.
type Element struct {
	Type     string `json:"type"`
	Text     Text   `json:"text"`
	URL      string `json:"url,omitempty"`
	ActionID string `json:"action_id"`
}

// BuildPayload renders msg for the channel. query is echoed so readers
// know which filter matched.
func BuildPayload(msg *model.MessageSummary, channel, username, query string) Payload {
	blocks := []Block{
		{
			Type: "header",
			Text: &Text{Type: "plain_text", Text: "📧 " + msg.Subject},
		},
		{
			Type: "section",
			Fields: []Text{
				{Type: "mrkdwn", Text: "*From:*\n" + msg.Sender},
				{Type: "mrkdwn", Text: "*Date:*\n" + msg.Date},
			},
		},
		{
			Type: "section",
			Text: &Text{Type: "mrkdwn", Text: "*Query:* `" + query + "`"},
		},
	}

	if msg.Body != "" {
		blocks = append(blocks, Block{
			Type: "section",
			Text: &Text{Type: "mrkdwn", Text: "*Preview:*\n```" + msg.Body + "```"},
		})
	}

	if msg.Link != "" {
		blocks = append(blocks, Block{
			Type: "actions",
			Elements: []Element{{
				Type:     "button",
				Text:     Text{Type: "plain_text", Text: "Open in Gmail"},
				URL:      msg.Link,
				ActionID: "open_gmail",
			}},
		})
	}

	return Payload{
		Channel:  channel,
		Username: username,
		Text:     "📧 New Email: " + msg.Subject,
		Blocks:   blocks,
	}
}
