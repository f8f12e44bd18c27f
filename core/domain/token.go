package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NewCorrelationToken builds the opaque token that links a payment link to
// its eventual provider confirmation. The payer id is embedded so the
// reconciler can still notify the buyer when the confirmation arrives for a
// conversation that no longer exists.
func NewCorrelationToken(userID int64) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("ord-%d-%s", userID, raw[:12])
}

// PayerIDFromToken extracts the payer id embedded by NewCorrelationToken.
func PayerIDFromToken(token string) (int64, bool) {
	parts := strings.Split(token, "-")
	if len(parts) != 3 || parts[0] != "ord" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
