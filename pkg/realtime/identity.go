package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Identity is a user or conversation identifier in canonical form.
// Identifiers arrive as JSON numbers on one path and strings on another, so
// integral values are reduced to their decimal form: 42, "42", "042" and
// 42.0 are the same identity.
type Identity string

// IdentityOf normalizes v. Unsupported or empty values give "".
func IdentityOf(v any) Identity {
	switch x := v.(type) {
	case nil:
		return ""
	case Identity:
		return normalize(string(x))
	case string:
		return normalize(x)
	case json.Number:
		return normalize(x.String())
	case json.RawMessage:
		return identityFromJSON(x)
	case int:
		return Identity(strconv.FormatInt(int64(x), 10))
	case int32:
		return Identity(strconv.FormatInt(int64(x), 10))
	case int64:
		return Identity(strconv.FormatInt(x, 10))
	case uint:
		return Identity(strconv.FormatUint(uint64(x), 10))
	case uint64:
		return Identity(strconv.FormatUint(x, 10))
	case float64:
		return normalizeFloat(x)
	case fmt.Stringer:
		return normalize(x.String())
	}
	return normalize(fmt.Sprint(v))
}

func identityFromJSON(raw json.RawMessage) Identity {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return normalize(s)
	}
	return normalize(string(raw))
}

func normalize(s string) Identity {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if d, ok := decimal(s); ok {
		return Identity(d)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return normalizeFloat(f)
	}
	return Identity(s)
}

// decimal returns the canonical form of an integer string of any length:
// sign "+" and leading zeros dropped, "-0" folded into "0".
func decimal(s string) (string, bool) {
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if s == "" {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", false
		}
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0", true
	}
	if neg {
		return "-" + s, true
	}
	return s, true
}

func normalizeFloat(f float64) Identity {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return Identity(strconv.FormatInt(int64(f), 10))
	}
	return Identity(strconv.FormatFloat(f, 'f', -1, 64))
}

func (id Identity) String() string { return string(id) }

func (id Identity) IsZero() bool { return id == "" }

// Same reports whether id and other denote the same non-empty identity.
func (id Identity) Same(other Identity) bool {
	return id != "" && id == other
}

// UserChannel is the persistent per-user channel name.
func UserChannel(user Identity) string {
	return "user-" + string(user)
}

// ConversationChannel is the per-conversation channel name.
func ConversationChannel(convID Identity) string {
	return "private-conversation-" + string(convID)
}

// Event names carried by the channels.
const (
	EventUserMessage         = "chat-message"
	EventConversationMessage = "new-message"
)
