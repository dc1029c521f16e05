package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// codeLength is the number of hex characters kept from the digest.
const codeLength = 16

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// DerivedCode builds a stable external code for listings that carry none, so
// repeated scrapes of the same listing land on the same upsert key.
func DerivedCode(title string, price int64, location string) string {
	input := fmt.Sprintf("%s|%d|%s", NormalizeText(title), price, NormalizeText(location))
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:codeLength]
}

// NormalizeText lower-cases, drops punctuation and collapses whitespace.
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumRegex.ReplaceAllString(s, " ")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
