// Package signature authenticates payment gateway webhooks.
//
// The gateway signs a callback as
//
//	UPPER(HEX(MD5(keycode + v1 + v2 + ... + vn + keycode)))
//
// where v1..vn are the values of the signed fields ordered by field name,
// concatenated with no names or separators.
package signature

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"checkout-service/internal/config"
	"checkout-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
)

var (
	ErrSignatureMismatch = fmt.Errorf("%w: signature mismatch", domain.ErrUnauthenticated)
	ErrIPNotAllowed      = fmt.Errorf("%w: caller ip not allowed", domain.ErrUnauthenticated)
	ErrNotConfigured     = errors.New("webhook keycode not configured")
)

type Verifier struct {
	keycode string
	allowed map[netip.Addr]struct{}
	raw     map[string]struct{}
	log     *log.Helper
}

func NewVerifier(cfg config.Webhook, logger log.Logger) *Verifier {
	v := &Verifier{
		keycode: cfg.Keycode,
		allowed: make(map[netip.Addr]struct{}),
		raw:     make(map[string]struct{}),
		log:     log.NewHelper(logger),
	}
	for _, ip := range cfg.AllowedIPs {
		ip = strings.TrimSpace(ip)
		if addr, err := netip.ParseAddr(ip); err == nil {
			v.allowed[addr.Unmap()] = struct{}{}
		} else if ip != "" {
			v.raw[ip] = struct{}{}
		}
	}
	if len(cfg.AllowedIPs) == 0 {
		v.log.Warn("webhook ip allow-list is empty, every caller address is accepted")
	}
	return v
}

func (v *Verifier) Configured() bool { return v.keycode != "" }

// Sign renders the signature the gateway would send for fields.
func (v *Verifier) Sign(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(v.keycode)
	for _, k := range keys {
		b.WriteString(fields[k])
	}
	b.WriteString(v.keycode)
	return strings.ToUpper(fmt.Sprintf("%x", md5.Sum([]byte(b.String()))))
}

// Verify recomputes the signature and compares it in constant time. Both
// sides are hashed first so the comparison never depends on the supplied
// length.
func (v *Verifier) Verify(fields map[string]string, sign string) error {
	if !v.Configured() {
		return ErrNotConfigured
	}
	expected := sha256.Sum256([]byte(v.Sign(fields)))
	supplied := sha256.Sum256([]byte(sign))
	if subtle.ConstantTimeCompare(expected[:], supplied[:]) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// AllowIP passes every caller when no allow-list is configured.
func (v *Verifier) AllowIP(ip string) error {
	if len(v.allowed) == 0 && len(v.raw) == 0 {
		return nil
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(ip)); err == nil {
		if _, ok := v.allowed[addr.Unmap()]; ok {
			return nil
		}
	}
	if _, ok := v.raw[ip]; ok {
		return nil
	}
	v.log.Warnf("webhook caller %s rejected by ip allow-list", ip)
	return ErrIPNotAllowed
}
