package mailhog

import (
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"

	"github.com/busybox42/mailfixture/internal/store"
)

// escapes are literal sequences some capture servers leave in JSON bodies
var escapes = strings.NewReplacer(
	`\r\n`, "\n",
	`\n`, "\n",
	`\"`, `"`,
	`\t`, "\t",
)

// HTMLBody returns the first text/html part of msg, falling back to the
// message body. Transfer encodings are decoded and literal escape sequences
// are unescaped.
func HTMLBody(msg *store.Message) string {
	if msg == nil {
		return ""
	}

	if part := findHTMLPart(msg.MIME); part != nil {
		return escapes.Replace(decodePart(part))
	}
	if msg.Content != nil {
		if part := findHTMLPart(msg.Content.MIME); part != nil {
			return escapes.Replace(decodePart(part))
		}
		return escapes.Replace(msg.Content.Body)
	}
	return ""
}

// IsAddressedTo reports whether addr is one of the message's recipients
func IsAddressedTo(msg *store.Message, addr string) bool {
	if msg == nil {
		return false
	}
	for _, to := range msg.To {
		if to != nil && strings.EqualFold(to.Address(), addr) {
			return true
		}
	}
	return false
}

func findHTMLPart(body *store.MIMEBody) *store.Content {
	if body == nil {
		return nil
	}
	for _, part := range body.Parts {
		if part == nil {
			continue
		}
		if values := part.Headers["Content-Type"]; len(values) > 0 && strings.Contains(strings.ToLower(values[0]), "text/html") {
			return part
		}
		if nested := findHTMLPart(part.MIME); nested != nil {
			return nested
		}
	}
	return nil
}

func decodePart(part *store.Content) string {
	encoding := ""
	if values := part.Headers["Content-Transfer-Encoding"]; len(values) > 0 {
		encoding = strings.ToLower(strings.TrimSpace(values[0]))
	}

	switch encoding {
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(part.Body)))
		if err == nil {
			return string(decoded)
		}
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(part.Body), ""))
		if err == nil {
			return string(decoded)
		}
	}
	return part.Body
}
