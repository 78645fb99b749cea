package chat

// Message roles understood by every provider adapter.
const (
	MessageSystem    = "system"
	MessageUser      = "user"
	MessageAssistant = "assistant"
)

// ContentPart represents a part of a multi-modal message content
type ContentPart interface {
	isContentPart()
}

// TextContent represents text content in a multi-modal message
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (t TextContent) isContentPart() {}

// ImageContent represents image content in a multi-modal message
type ImageContent struct {
	Type     string   `json:"type"`
	ImageURL ImageURL `json:"image_url"`
	// Raw bytes and MIME type are kept for providers that take inline data
	// instead of data URLs.
	Data     []byte `json:"-"`
	MIMEType string `json:"-"`
}

func (i ImageContent) isContentPart() {}

// ImageURL represents an image URL in multi-modal messages
type ImageURL struct {
	URL    string `json:"url"`              // URL or data URL
	Detail string `json:"detail,omitempty"` // "low", "high", or "auto"
}

// Message is the provider-neutral prompt message built by the assembler.
type Message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content,omitempty"`
	MultiContent []ContentPart `json:"-"` // takes precedence over Content
}

// Text returns the textual content of m, joining multi-part text.
func (m Message) Text() string {
	if len(m.MultiContent) == 0 {
		return m.Content
	}
	out := ""
	for _, p := range m.MultiContent {
		if t, ok := p.(TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}
