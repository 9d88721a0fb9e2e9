package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	// DefaultDigits is the code length expected from authenticator apps.
	DefaultDigits = 6
	// DefaultPeriod is the time step in seconds.
	DefaultPeriod = 30
	// DefaultSkew is the number of adjacent steps accepted on either side of
	// the current one to absorb client/server clock drift.
	DefaultSkew = 1
	// DefaultAlgorithm is the HMAC hash used by virtually every authenticator.
	DefaultAlgorithm = "SHA1"

	// SecretBytes is the raw secret length (160 bits, RFC 4226 recommendation).
	SecretBytes = 20

	// QRCodeSize is the rendered QR image edge in pixels.
	QRCodeSize = 256
)

var (
	// ErrInvalidSecret is returned for secrets that are not valid base32.
	ErrInvalidSecret = errors.New("invalid totp secret")
	// ErrUnsupportedAlgorithm is returned for unknown HMAC algorithms.
	ErrUnsupportedAlgorithm = errors.New("unsupported totp algorithm")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config tunes code generation. Zero Digits, Period and Algorithm fall back
// to the defaults. Skew is taken as given: zero accepts only the current
// step and negative values are clamped to zero.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

// Secret is a freshly generated enrollment secret.
type Secret struct {
	Base32 string
	URI    string
}

// Manager generates and verifies codes. It holds no mutable state.
type Manager struct {
	config Config
}

// NewManager returns a Manager with defaults applied to cfg.
func NewManager(cfg Config) *Manager {
	if cfg.Digits <= 0 {
		cfg.Digits = DefaultDigits
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Skew < 0 {
		cfg.Skew = 0
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = DefaultAlgorithm
	}
	cfg.Algorithm = strings.ToUpper(cfg.Algorithm)
	return &Manager{config: cfg}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// GenerateSecret creates a random secret and the otpauth URI that enrolls it
// for account.
func (m *Manager) GenerateSecret(account string) (*Secret, error) {
	raw := make([]byte, SecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	encoded := secretEncoding.EncodeToString(raw)
	return &Secret{
		Base32: encoded,
		URI:    m.ProvisionURI(encoded, account),
	}, nil
}

// ProvisionURI builds the otpauth://totp URI for secretBase32.
func (m *Manager) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer
	label := account
	if issuer != "" {
		label = issuer + ":" + account
	}

	v := url.Values{}
	v.Set("secret", secretBase32)
	if issuer != "" {
		v.Set("issuer", issuer)
	}
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", m.config.Algorithm)

	return "otpauth://totp/" + url.PathEscape(label) + "?" + v.Encode()
}

// VerifyCode checks code against the step containing now and Skew steps on
// either side. Malformed codes are rejected without error; an undecodable
// secret returns ErrInvalidSecret.
func (m *Manager) VerifyCode(secretBase32, code string, now time.Time) (bool, error) {
	key, err := DecodeSecret(secretBase32)
	if err != nil {
		return false, err
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumeric(trimmed) {
		return false, nil
	}

	base := now.Unix() / int64(m.config.Period)
	matched := 0
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotp(key, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, err
		}
		// Every window slot is compared so timing does not reveal which step matched.
		matched |= subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed))
	}
	return matched == 1, nil
}

// Code returns the code for the step containing t.
func (m *Manager) Code(secretBase32 string, t time.Time) (string, error) {
	key, err := DecodeSecret(secretBase32)
	if err != nil {
		return "", err
	}
	return hotp(key, t.Unix()/int64(m.config.Period), m.config.Digits, m.config.Algorithm)
}

// DecodeSecret parses a base32 secret, tolerating lower case, spaces and padding.
func DecodeSecret(secretBase32 string) ([]byte, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secretBase32), " ", ""))
	normalized = strings.TrimRight(normalized, "=")
	if normalized == "" {
		return nil, ErrInvalidSecret
	}
	key, err := secretEncoding.DecodeString(normalized)
	if err != nil || len(key) == 0 {
		return nil, ErrInvalidSecret
	}
	return key, nil
}

// RenderQRCode encodes uri as a PNG QR code and returns it as a data URL.
func RenderQRCode(uri string) (string, error) {
	png, err := qrcode.Encode(uri, qrcode.Medium, QRCodeSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func hotp(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
