package finance

import (
	"strings"

	"github.com/spaolacci/murmur3"

	"ledgerdb/pkg/common"
)

// Seed for attribute hashes. Changing it invalidates every stored
// secondary snapshot.
const hashSeed = 0x1ed9e7

func hashString(s string) common.KeyType {
	return common.KeyType(murmur3.Sum32WithSeed([]byte(s), hashSeed))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// HashEmail is the by_email key of a user. Emails compare case-insensitively.
func HashEmail(email string) common.KeyType {
	return hashString(normalizeEmail(email))
}

// HashName is the by_name key of a tag.
func HashName(name string) common.KeyType {
	return hashString(normalizeName(name))
}

func HashAccountType(t AccountType) common.KeyType {
	return hashString(string(t))
}
