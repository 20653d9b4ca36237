package codes

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	alphabet           = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	ReferralCodeLength = 8
	referenceLength    = 10
)

// Random returns n characters drawn uniformly from [A-Z0-9].
func Random(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	base := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

func ReferralCode() (string, error) {
	return Random(ReferralCodeLength)
}

// TransactionReference builds "<TYP>-<10 chars>" from a transaction type,
// e.g. referral_bonus -> "REF-7QX2M0A9KD".
func TransactionReference(txType string) (string, error) {
	prefix := strings.ToUpper(strings.ReplaceAll(txType, "_", ""))
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	suffix, err := Random(referenceLength)
	if err != nil {
		return "", err
	}
	return prefix + "-" + suffix, nil
}
