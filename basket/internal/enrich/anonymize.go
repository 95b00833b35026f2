package enrich

import (
	"encoding/hex"
	"net"
	"time"

	"golang.org/x/crypto/blake2b"
)

// IP anonymization modes.
const (
	IPModeHash     = "hash"
	IPModeTruncate = "truncate"
)

// Anonymizer removes the identifying part of a client IP.
//
// In hash mode the address is replaced by a keyed BLAKE2b digest whose input
// includes the current UTC day, so the same visitor maps to the same value
// for one day only. In truncate mode IPv4 keeps its /24 and IPv6 its /48.
type Anonymizer struct {
	mode string
	key  []byte
}

// NewAnonymizer returns an anonymizer for mode. The salt keys the hash; an
// empty salt still hashes but the digest is then only as strong as the day
// rotation.
func NewAnonymizer(mode, salt string) *Anonymizer {
	if mode != IPModeTruncate {
		mode = IPModeHash
	}
	key := []byte(salt)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Anonymizer{mode: mode, key: key}
}

// Anonymize returns the anonymized form of ip, or "" if ip does not parse.
func (a *Anonymizer) Anonymize(ip string, now time.Time) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	if a.mode == IPModeTruncate {
		return truncateIP(parsed)
	}

	h, err := blake2b.New(16, a.key)
	if err != nil {
		// Only reachable with an oversized key, which NewAnonymizer prevents.
		return truncateIP(parsed)
	}
	h.Write([]byte(now.UTC().Format("2006-01-02")))
	h.Write([]byte{0})
	h.Write(parsed.To16())
	return hex.EncodeToString(h.Sum(nil))
}

func truncateIP(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(48, 128)).String()
}
