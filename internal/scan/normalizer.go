package scan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/rollcall/internal/infrastructure/config"
)

var (
	// ErrInvalidFormat means the input is not a hexadecimal identifier of
	// acceptable length.
	ErrInvalidFormat = errors.New("scan: invalid identifier format")

	// ErrFrameTooShort means a device frame was below the minimum length.
	// Readers emit these on connect and disconnect; treat them as noise.
	ErrFrameTooShort = errors.New("scan: frame below minimum length")

	// ErrInvalidBounds is returned by NewNormalizer for unusable bounds.
	ErrInvalidBounds = errors.New("scan: invalid length bounds")
)

// Normalizer reduces raw frames to canonical identifiers.
//
// Thread Safety:
//   - Immutable after construction; safe for concurrent use.
type Normalizer struct {
	minLen int
	maxLen int
}

// NewNormalizer returns a Normalizer accepting identifiers of
// cfg.MinLength to cfg.MaxLength hex characters inclusive.
func NewNormalizer(cfg config.NormalizerConfig) (*Normalizer, error) {
	if cfg.MinLength < 1 || cfg.MaxLength < cfg.MinLength {
		return nil, fmt.Errorf("%w: min=%d max=%d", ErrInvalidBounds, cfg.MinLength, cfg.MaxLength)
	}
	return &Normalizer{minLen: cfg.MinLength, maxLen: cfg.MaxLength}, nil
}

// Bounds returns the accepted identifier length range.
func (n *Normalizer) Bounds() (minLen, maxLen int) {
	return n.minLen, n.maxLen
}

// Normalize converts a frame to a CanonicalID.
//
// Device frames lose surrounding whitespace and every line terminator. A
// result shorter than the minimum is ErrFrameTooShort. Manual input loses
// every non-hex character and must then be entirely hex within bounds.
// Both are uppercased.
//
// Returns:
//   - CanonicalID: the canonical identifier on success
//   - error: ErrFrameTooShort or ErrInvalidFormat
func (n *Normalizer) Normalize(frame RawFrame) (CanonicalID, error) {
	switch frame.Source {
	case SourceManual:
		return n.normalizeManual(frame.Payload)
	default:
		return n.normalizeDevice(frame.Payload)
	}
}

// Credential applies the manual-entry rules to an enrolled credential, so
// the stored form is exactly what a scan of that card resolves to.
func (n *Normalizer) Credential(raw string) (string, error) {
	id, err := n.normalizeManual(raw)
	return string(id), err
}

func (n *Normalizer) normalizeDevice(payload string) (CanonicalID, error) {
	cleaned := strings.TrimSpace(strings.NewReplacer("\r", "", "\n", "").Replace(payload))
	if len(cleaned) < n.minLen {
		return "", ErrFrameTooShort
	}
	if len(cleaned) > n.maxLen || !isHex(cleaned) {
		return "", fmt.Errorf("%w: device frame of %d characters", ErrInvalidFormat, len(cleaned))
	}
	return CanonicalID(strings.ToUpper(cleaned)), nil
}

func (n *Normalizer) normalizeManual(text string) (CanonicalID, error) {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if isHexByte(text[i]) {
			b.WriteByte(text[i])
		}
	}
	cleaned := b.String()

	if len(cleaned) < n.minLen || len(cleaned) > n.maxLen {
		return "", fmt.Errorf("%w: want %d-%d hex characters, got %d",
			ErrInvalidFormat, n.minLen, n.maxLen, len(cleaned))
	}
	return CanonicalID(strings.ToUpper(cleaned)), nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexByte(s[i]) {
			return false
		}
	}
	return true
}

func isHexByte(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
