package credentials

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedBlob is returned by Split for input Combine could not have produced.
var ErrMalformedBlob = errors.New("credentials: malformed pairing blob")

// Combine joins two strings as "<len(a)>:<len(b)>:<a><b>".
func Combine(a, b string) string {
	var sb strings.Builder
	la, lb := strconv.Itoa(len(a)), strconv.Itoa(len(b))
	sb.Grow(len(la) + len(lb) + 2 + len(a) + len(b))
	sb.WriteString(la)
	sb.WriteByte(':')
	sb.WriteString(lb)
	sb.WriteByte(':')
	sb.WriteString(a)
	sb.WriteString(b)
	return sb.String()
}

// Split is the exact inverse of Combine. Lengths must be canonical decimal
// (no sign, no leading zeros) and the payload after the second colon must be
// exactly len1+len2 bytes long. There is no other bound on the lengths; the
// parts are slices of blob, so nothing is allocated from them.
func Split(blob string) (string, string, error) {
	first := strings.IndexByte(blob, ':')
	if first < 0 {
		return "", "", fmt.Errorf("%w: missing first separator", ErrMalformedBlob)
	}
	second := strings.IndexByte(blob[first+1:], ':')
	if second < 0 {
		return "", "", fmt.Errorf("%w: missing second separator", ErrMalformedBlob)
	}
	second += first + 1

	la, err := parseLen(blob[:first])
	if err != nil {
		return "", "", fmt.Errorf("%w: first length: %v", ErrMalformedBlob, err)
	}
	lb, err := parseLen(blob[first+1 : second])
	if err != nil {
		return "", "", fmt.Errorf("%w: second length: %v", ErrMalformedBlob, err)
	}

	payload := blob[second+1:]
	if la > len(payload) || lb != len(payload)-la {
		return "", "", fmt.Errorf("%w: payload is %d bytes, lengths declare %d+%d", ErrMalformedBlob, len(payload), la, lb)
	}
	return payload[:la], payload[la:], nil
}

func parseLen(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("non-decimal %q", s)
		}
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, fmt.Errorf("leading zero in %q", s)
	}
	return strconv.Atoi(s)
}

// Encode returns the pairing blob for c.
func Encode(c Credentials) string {
	return Combine(c.SSID, c.Password)
}

// Decode parses and validates a pairing blob.
func Decode(blob string) (Credentials, error) {
	ssid, password, err := Split(blob)
	if err != nil {
		return Credentials{}, err
	}
	c := Credentials{SSID: ssid, Password: password}
	if err := c.Validate(); err != nil {
		return Credentials{}, err
	}
	return c, nil
}
