package secretcodec

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedKey reports a JWK that cannot be turned into a public key.
	ErrMalformedKey = errors.New("malformed public key")
	// ErrSignatureMismatch reports a well-formed key whose signature does not verify.
	ErrSignatureMismatch = errors.New("signature mismatch")
	// ErrAlgorithmMismatch reports an algorithm tag that does not fit the key curve.
	ErrAlgorithmMismatch = errors.New("algorithm does not match key curve")
)

// JWK is the subset of a JSON Web Key needed for elliptic-curve verification.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid,omitempty"`
	Use string `json:"use,omitempty"`
}

type curveSpec struct {
	curve  elliptic.Curve
	ecdh   ecdh.Curve
	method *jwt.SigningMethodECDSA
}

var curves = map[string]curveSpec{
	"P-256": {curve: elliptic.P256(), ecdh: ecdh.P256(), method: jwt.SigningMethodES256},
	"P-384": {curve: elliptic.P384(), ecdh: ecdh.P384(), method: jwt.SigningMethodES384},
	"P-521": {curve: elliptic.P521(), ecdh: ecdh.P521(), method: jwt.SigningMethodES512},
}

// PublicKey is a parsed device key bound to the JOSE algorithm of its curve.
type PublicKey struct {
	Key    *ecdsa.PublicKey
	Method *jwt.SigningMethodECDSA
}

// Algorithm returns the JOSE algorithm name (ES256, ES384, ES512).
func (p *PublicKey) Algorithm() string {
	return p.Method.Alg()
}

// ParseJWK validates an EC JWK and returns the public key it describes.
// The point must lie on the named curve.
func ParseJWK(k JWK) (*PublicKey, error) {
	if k.Kty != "EC" {
		return nil, ErrMalformedKey
	}
	spec, ok := curves[k.Crv]
	if !ok {
		return nil, ErrMalformedKey
	}

	size := spec.method.KeySize
	x, err := decodeB64URL(k.X)
	if err != nil || len(x) != size {
		return nil, ErrMalformedKey
	}
	y, err := decodeB64URL(k.Y)
	if err != nil || len(y) != size {
		return nil, ErrMalformedKey
	}

	point := make([]byte, 0, 1+2*size)
	point = append(point, 0x04)
	point = append(point, x...)
	point = append(point, y...)
	if _, err := spec.ecdh.NewPublicKey(point); err != nil {
		return nil, ErrMalformedKey
	}

	if k.Alg != "" && k.Alg != spec.method.Alg() {
		return nil, ErrAlgorithmMismatch
	}

	return &PublicKey{
		Key: &ecdsa.PublicKey{
			Curve: spec.curve,
			X:     new(big.Int).SetBytes(x),
			Y:     new(big.Int).SetBytes(y),
		},
		Method: spec.method,
	}, nil
}

// CheckAlgorithm reports whether alg is the JOSE algorithm of the key's curve.
func CheckAlgorithm(k JWK, alg string) error {
	pub, err := ParseJWK(k)
	if err != nil {
		return err
	}
	if !strings.EqualFold(pub.Algorithm(), alg) {
		return ErrAlgorithmMismatch
	}
	return nil
}

// VerifySignature reports whether signatureB64url is a valid signature of
// message under k. It never panics or errors; every failure yields false.
func VerifySignature(k JWK, message, signatureB64url string) bool {
	return VerifySignatureDetailed(k, message, signatureB64url) == nil
}

// VerifySignatureDetailed is VerifySignature with the failure kind exposed,
// ErrMalformedKey or ErrSignatureMismatch. Callers use the distinction for
// logging only.
func VerifySignatureDetailed(k JWK, message, signatureB64url string) error {
	pub, err := ParseJWK(k)
	if err != nil {
		return ErrMalformedKey
	}

	sig, err := decodeB64URL(signatureB64url)
	if err != nil || len(sig) == 0 {
		return ErrSignatureMismatch
	}

	// JOSE encodes r||s at fixed width; anything else is treated as ASN.1 DER.
	if len(sig) == 2*pub.Method.KeySize {
		if err := pub.Method.Verify(message, sig, pub.Key); err != nil {
			return ErrSignatureMismatch
		}
		return nil
	}

	if !pub.Method.Hash.Available() {
		return ErrSignatureMismatch
	}
	h := pub.Method.Hash.New()
	_, _ = h.Write([]byte(message))
	if !ecdsa.VerifyASN1(pub.Key, h.Sum(nil), sig) {
		return ErrSignatureMismatch
	}
	return nil
}

func decodeB64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
