package cache

const (
	KeyToken      = "_TokenResponse"
	userKeyPrefix = "_User/"
)

// UserKey is shared by id and email lookups; provider ids never contain '@'
// so the two never collide.
func UserKey(idOrEmail string) string {
	return userKeyPrefix + idOrEmail
}
