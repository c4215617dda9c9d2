package util

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

const gravatarBase = "https://gravatar.com/avatar/"

// GravatarURL derives the public avatar reference for an email address.
func GravatarURL(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return gravatarBase + hex.EncodeToString(sum[:]) + "?s=128"
}
