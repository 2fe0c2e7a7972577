package idempotency

import (
	"net/http"
	"strings"
)

const Header = "Idempotency-Key"

// maxKeyLen bounds what gets persisted in the replay table.
const maxKeyLen = 128

// Key extracts the client's idempotency key, or "" when absent. Oversized
// keys are ignored rather than truncated, so replays stay unambiguous.
func Key(r *http.Request) string {
	k := strings.TrimSpace(r.Header.Get(Header))
	if len(k) > maxKeyLen {
		return ""
	}
	return k
}
