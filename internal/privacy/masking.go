package privacy

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"waconsole/internal/constants"

	"github.com/sirupsen/logrus"
)

// MaskPhoneNumber hides all but the trailing digits, keeping a leading "+".
// Example: "+15551234567" -> "+*******4567"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}
	if strings.HasPrefix(phone, "+") {
		return "+" + maskTail(phone[1:], constants.DefaultPhoneMaskLength)
	}
	return maskTail(phone, constants.DefaultPhoneMaskLength)
}

// MaskName keeps the first letter of each word.
// Example: "Ana Lopez" -> "A** L****"
func MaskName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(r) + strings.Repeat("*", utf8.RuneCountInString(w[size:]))
	}
	return strings.Join(words, " ")
}

// MaskIdentifier shows only the last few characters of a conversation or message id.
func MaskIdentifier(id string) string {
	return maskTail(id, constants.DefaultMessageIDLength)
}

// MaskBody reduces message text to its length so content never reaches logs.
func MaskBody(body string) string {
	if body == "" {
		return ""
	}
	return strings.Repeat("*", min(utf8.RuneCountInString(body), 8)) + "(" + strconv.Itoa(utf8.RuneCountInString(body)) + ")"
}

func maskTail(s string, keepLast int) string {
	runes := []rune(s)
	if len(runes) <= keepLast {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-keepLast) + string(runes[len(runes)-keepLast:])
}

// MaskFields returns a copy of fields with known sensitive keys masked.
func MaskFields(fields logrus.Fields) logrus.Fields {
	if fields == nil {
		return nil
	}

	masked := make(logrus.Fields, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "phone", "customer_phone", "from", "to":
			masked[k] = MaskPhoneNumber(s)
		case "customer_name", "name":
			masked[k] = MaskName(s)
		case "body", "caption", "text":
			masked[k] = MaskBody(s)
		default:
			masked[k] = v
		}
	}
	return masked
}
