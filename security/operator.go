package security

import (
	"net/http"
	"strings"

	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/crypto/bcrypt"
)

const OperatorKeyHeader = "X-Operator-Key"

// OperatorAuth guards the operator routes with a shared key stored as a
// bcrypt hash.
type OperatorAuth struct {
	hash []byte
}

func NewOperatorAuth(bcryptHash string) *OperatorAuth {
	return &OperatorAuth{hash: []byte(strings.TrimSpace(bcryptHash))}
}

// HashOperatorKey produces the value for OPERATOR_KEY_HASH.
func HashOperatorKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify reports whether key matches. With no hash configured nothing matches.
func (a *OperatorAuth) Verify(key string) bool {
	if len(a.hash) == 0 || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(key)) == nil
}

func (a *OperatorAuth) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if len(a.hash) == 0 {
			return e.JSON(http.StatusServiceUnavailable, map[string]string{
				"error": "operator access is not configured",
			})
		}
		if !a.Verify(e.Request.Header.Get(OperatorKeyHeader)) {
			return e.JSON(http.StatusUnauthorized, map[string]string{
				"error": "Unauthorized",
			})
		}
		return e.Next()
	}
}
