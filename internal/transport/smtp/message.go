package smtp

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"sort"
	"strings"
	"time"

	"github.com/lattiq/smartmailer/internal/core"
)

// buildMessage builds the email message in RFC 5322 format.
func buildMessage(msg *core.Message, host string, now time.Time) ([]byte, error) {
	var message bytes.Buffer

	// Headers
	writeHeader(&message, "From", msg.From.String())
	writeHeader(&message, "To", msg.To.String())
	writeHeader(&message, "Subject", mime.QEncoding.Encode("UTF-8", msg.Subject))
	writeHeader(&message, "Date", now.Format(time.RFC1123Z))
	writeHeader(&message, "Message-ID", fmt.Sprintf("<%d@%s>", now.UnixNano(), host))
	writeHeader(&message, "MIME-Version", "1.0")

	// Custom headers, sorted so the output is stable
	keys := make([]string, 0, len(msg.Headers))
	for key := range msg.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.ContainsAny(key, "\r\n:") || strings.ContainsAny(msg.Headers[key], "\r\n") {
			return nil, fmt.Errorf("invalid header %q", key)
		}
		writeHeader(&message, key, msg.Headers[key])
	}

	writeHeader(&message, "Content-Type", "text/html; charset=UTF-8")
	writeHeader(&message, "Content-Transfer-Encoding", "quoted-printable")
	message.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&message)
	if _, err := qp.Write([]byte(msg.HTMLBody)); err != nil {
		return nil, err
	}
	if err := qp.Close(); err != nil {
		return nil, err
	}
	message.WriteString("\r\n")

	return message.Bytes(), nil
}

func writeHeader(b *bytes.Buffer, key, value string) {
	b.WriteString(key)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}
