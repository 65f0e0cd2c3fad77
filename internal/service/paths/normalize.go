package paths

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"

	"github.com/ignite/campaign-journeys/internal/domain"
	"golang.org/x/net/publicsuffix"
)

// NormalizeSubject trims, collapses internal whitespace and lower-cases a
// subject line. Emails whose subjects normalize equal share a campaign.
func NormalizeSubject(subject string) string {
	return strings.ToLower(strings.Join(strings.Fields(subject), " "))
}

// SubjectHash is the hex SHA-256 of the normalized subject.
func SubjectHash(subject string) string {
	sum := sha256.Sum256([]byte(NormalizeSubject(subject)))
	return hex.EncodeToString(sum[:])
}

// NormalizeRecipient lower-cases and trims a recipient address.
func NormalizeRecipient(recipient string) string {
	return strings.ToLower(strings.TrimSpace(recipient))
}

// ResolveMerchantDomain reduces a sender address ("promo@mail.shop.com" or
// "Shop <promo@shop.com>") to its registrable domain ("shop.com").
func ResolveMerchantDomain(sender string) (string, error) {
	addr := strings.TrimSpace(sender)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidDomain, sender)
	}
	host := strings.TrimSuffix(strings.ToLower(addr[at+1:]), ".")
	if host == "" || strings.ContainsAny(host, " <>") {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidDomain, sender)
	}
	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", domain.ErrInvalidDomain, sender, err)
	}
	return registrable, nil
}
