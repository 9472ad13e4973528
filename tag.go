package identity

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// MaxTagAttempts bounds the registration retry loop around tag collisions.
var MaxTagAttempts = 3

// GenerateTag derives a unique display handle from an alias and the
// account's public id. The first attempt uses the leading hex characters of
// the id, the second a different slice, and later attempts fall back to a
// random numeric suffix. Pure given its inputs, the retry loop against the
// uniqueness constraint lives in the registration orchestration.
func GenerateTag(alias string, publicID uuid.UUID, attempt int) string {
	safeAlias := strings.TrimSpace(alias)
	if safeAlias == "" {
		safeAlias = "User"
	}

	hex := strings.ReplaceAll(publicID.String(), "-", "")

	switch attempt {
	case 0:
		return safeAlias + "#" + hex[:6]
	case 1:
		return safeAlias + "#" + hex[6:12]
	default:
		return fmt.Sprintf("%s#%d", safeAlias, randomTagSuffix())
	}
}

// randomTagSuffix returns a 6 digit number in [100000, 999999].
func randomTagSuffix() int {
	return 100000 + rand.IntN(900000)
}
