package auth

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

const gravatarURL = "https://s.gravatar.com/avatar"

// AvatarResolver builds gravatar image URLs. It never dereferences them.
type AvatarResolver struct {
	size int
}

func NewAvatarResolver(size int) *AvatarResolver {
	return &AvatarResolver{size: size}
}

// Resolve returns the gravatar URL for email. Emails are trimmed and
// lowercased first, so addresses differing only in case share an avatar.
func (r *AvatarResolver) Resolve(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	sum := md5.Sum([]byte(normalized))
	return fmt.Sprintf("%s/%s?s=%d", gravatarURL, hex.EncodeToString(sum[:]), r.size)
}
