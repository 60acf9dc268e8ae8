package shared

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cursor marks a page boundary for forward-only keyset pagination. The
// encoded form is opaque to callers; going backward requires the caller to
// have retained prior cursors.
type Cursor struct {
	LastActivityAt time.Time `json:"t"`
	ID             uuid.UUID `json:"id"`
}

// Encode serialises the cursor into an opaque token.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses an opaque token produced by Encode.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor", ErrValidation)
	}
	if c.ID == uuid.Nil || c.LastActivityAt.IsZero() {
		return Cursor{}, fmt.Errorf("%w: empty cursor", ErrValidation)
	}
	return c, nil
}
