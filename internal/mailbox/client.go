package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	mimeTextPlain = "text/plain"
	mimeTextHTML  = "text/html"
)

// Part is one node of a message body tree: either a leaf carrying decoded
// content bytes or a branch with child parts.
type Part struct {
	MimeType string
	Data     []byte
	Parts    []*Part
}

// Message is a fetched mailbox message.
type Message struct {
	ID           string
	Sender       string
	InternalDate int64 // epoch milliseconds
	Body         *Part
}

// Client abstracts the mailbox API surface the fetcher needs. The provider
// returns list results ordered newest first.
type Client interface {
	// ListMessageIDs returns up to max message ids matching the query.
	ListMessageIDs(ctx context.Context, query string, max int64) ([]string, error)

	// GetMessage fetches the full message including its body tree.
	GetMessage(ctx context.Context, id string) (*Message, error)
}

type gmailClient struct {
	svc *gmail.Service
}

// NewGmailClient creates a Client over the Gmail API authorized by the given
// token source.
func NewGmailClient(ctx context.Context, ts oauth2.TokenSource) (Client, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &gmailClient{svc: svc}, nil
}

func (c *gmailClient) ListMessageIDs(ctx context.Context, query string, max int64) ([]string, error) {
	resp, err := c.svc.Users.Messages.List("me").Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (c *gmailClient) GetMessage(ctx context.Context, id string) (*Message, error) {
	msg, err := c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	out := &Message{
		ID:           msg.Id,
		InternalDate: msg.InternalDate,
		Body:         convertPart(msg.Payload),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if strings.EqualFold(h.Name, "From") {
				out.Sender = h.Value
				break
			}
		}
	}
	return out, nil
}

// convertPart maps the provider's part structure onto the local tree,
// decoding body data. Parts without a body become empty leaves.
func convertPart(p *gmail.MessagePart) *Part {
	if p == nil {
		return nil
	}

	part := &Part{MimeType: p.MimeType}
	if p.Body != nil && p.Body.Data != "" {
		part.Data = decodeBody(p.Body.Data)
	}
	for _, child := range p.Parts {
		if converted := convertPart(child); converted != nil {
			part.Parts = append(part.Parts, converted)
		}
	}
	return part
}

// decodeBody decodes the provider's base64url body encoding, tolerating both
// padded and unpadded forms. Undecodable data is dropped rather than staged
// as garbage.
func decodeBody(data string) []byte {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return b
	}
	return nil
}

// CollectText walks the body tree in document order and concatenates every
// text/plain and text/html leaf under a labeled separator. Parts without
// content are ignored. The traversal uses an explicit stack, so arbitrarily
// deep trees cannot overflow the goroutine stack.
func CollectText(root *Part) string {
	if root == nil {
		return ""
	}

	var b strings.Builder
	stack := []*Part{root}
	for len(stack) > 0 {
		part := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if (part.MimeType == mimeTextPlain || part.MimeType == mimeTextHTML) && len(part.Data) > 0 {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("=== " + part.MimeType + " ===\n")
			b.Write(part.Data)
		}

		// Push children reversed so they pop in document order.
		for i := len(part.Parts) - 1; i >= 0; i-- {
			stack = append(stack, part.Parts[i])
		}
	}
	return b.String()
}
