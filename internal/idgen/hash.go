// Package idgen generates hive's cell IDs: short, content-addressed,
// collision-resistant identifiers in the form "<prefix>-<hash>". Adapted
// verbatim from the donor's internal/idgen/hash.go algorithm (base36
// encoding of a truncated sha256 digest), since the ID shape spec §4.5
// describes is the same scheme.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// EncodeBase36 converts data to a base36 string of exactly length
// characters, zero-padding on the left or truncating the most significant
// digits as needed.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	var result strings.Builder
	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// DefaultIDLength is the base36 hash length hive uses for cell IDs. 6
// characters (~31 bits) keeps IDs short while staying collision-unlikely
// for a single project's cell count (spec §4.5).
const DefaultIDLength = 6

// GenerateCellID creates a hash-based cell ID: sha256(title|description|
// creator|timestamp|nonce), base36-encoded and truncated to length,
// formatted as "<prefix>-<hash>". nonce lets a caller retry on the rare
// collision without changing any other input.
func GenerateCellID(prefix, title, description, creator string, timestamp time.Time, length, nonce int) string {
	content := fmt.Sprintf("%s|%s|%s|%d|%d", title, description, creator, timestamp.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))

	var numBytes int
	switch length {
	case 3:
		numBytes = 2
	case 4:
		numBytes = 3
	case 5, 6:
		numBytes = 4
	case 7, 8:
		numBytes = 5
	default:
		numBytes = 3
	}

	return fmt.Sprintf("%s-%s", prefix, EncodeBase36(hash[:numBytes], length))
}
