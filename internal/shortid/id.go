package shortid

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Generate returns length random base-36 characters.
func Generate(length int) string {
	var sb strings.Builder
	sb.Grow(length)
	base := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		sb.WriteByte(alphabet[n.Int64()])
	}
	return sb.String()
}

// Timestamp renders t as base-36 milliseconds since the epoch.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 36)
}
