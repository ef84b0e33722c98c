package smartmailer

import (
	"fmt"
	"html"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Placeholder tokens substituted in message bodies.
const (
	PlaceholderName       = "#name#"
	PlaceholderDepartment = "#department#"
)

const bodyCloseMarker = "</body>"

// InjectionStrategy names where the tracking beacon is placed in a rendered body.
type InjectionStrategy int

const (
	// InjectBeforeBodyClose inserts the beacon immediately before the closing body tag.
	InjectBeforeBodyClose InjectionStrategy = iota

	// InjectAppend appends the beacon to the end of the body. Used when the
	// template has no closing body tag.
	InjectAppend
)

// String returns the string representation of the strategy.
func (s InjectionStrategy) String() string {
	switch s {
	case InjectBeforeBodyClose:
		return "before-body-close"
	case InjectAppend:
		return "append"
	default:
		return "unknown"
	}
}

// Template is a parsed message template: the source split into the segments
// before and after the beacon injection point.
type Template struct {
	head     string
	tail     string
	strategy InjectionStrategy
}

// ParseTemplate resolves the beacon injection point of src. The last
// case-insensitive "</body>" wins; without one the beacon is appended.
func ParseTemplate(src string) *Template {
	idx := lastIndexFold(src, bodyCloseMarker)
	if idx < 0 {
		return &Template{head: src, strategy: InjectAppend}
	}

	return &Template{
		head:     src[:idx],
		tail:     src[idx:],
		strategy: InjectBeforeBodyClose,
	}
}

// lastIndexFold is a case-insensitive strings.LastIndex. Offsets are
// taken from s itself so they stay valid for any input encoding.
func lastIndexFold(s, marker string) int {
	for i := len(s) - len(marker); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(marker)], marker) {
			return i
		}
	}
	return -1
}

// Strategy returns the injection strategy resolved for the template.
func (t *Template) Strategy() InjectionStrategy {
	return t.strategy
}

// Render produces the body for one recipient. Placeholders are replaced in a
// single pass so substituted values are never re-scanned, and exactly one
// beacon is emitted. Render is pure and safe for concurrent use.
func (t *Template) Render(r Recipient, b Beacon) string {
	rep := strings.NewReplacer(
		PlaceholderName, r.Name,
		PlaceholderDepartment, r.GroupCode,
	)

	var sb strings.Builder
	sb.Grow(len(t.head) + len(t.tail) + 256)
	sb.WriteString(rep.Replace(t.head))
	sb.WriteString(b.HTML())
	sb.WriteString(rep.Replace(t.tail))
	return sb.String()
}

// Beacon is an invisible image whose fetch attributes an open to
// (SessionID, Email).
type Beacon struct {
	Endpoint  *url.URL
	SessionID string
	Email     string
}

// URL returns the beacon URL. Query parameters already present on the
// endpoint are preserved.
func (b Beacon) URL() string {
	var u url.URL
	if b.Endpoint != nil {
		u = *b.Endpoint
	}

	q := u.Query()
	q.Set("email_id", b.SessionID)
	q.Set("recipient_email", b.Email)
	u.RawQuery = q.Encode()
	return u.String()
}

// HTML returns the beacon image tag.
func (b Beacon) HTML() string {
	return fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none;border:0" />`, html.EscapeString(b.URL()))
}

// Personalize renders tpl for one recipient with a beacon pointing at endpoint.
func Personalize(tpl string, r Recipient, sessionID string, endpoint *url.URL) string {
	return ParseTemplate(tpl).Render(r, Beacon{
		Endpoint:  endpoint,
		SessionID: sessionID,
		Email:     r.Email,
	})
}

// LoadTemplate reads a message template from path.
func LoadTemplate(path string) (string, error) {
	cleanPath := filepath.Clean(path)

	content, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", NewTemplateError(cleanPath, "load", "failed to read template file", err)
	}

	if strings.TrimSpace(string(content)) == "" {
		return "", NewTemplateError(cleanPath, "load", "template file has no content", ErrTemplateEmpty)
	}

	return string(content), nil
}
