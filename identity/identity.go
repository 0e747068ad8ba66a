// Package identity implements the cryptographic identity primitives: a
// long-lived ECDSA P-256 keypair, its stable fingerprint, ECDH-derived
// pairwise AES keys, AES-256-GCM message encryption, and the HMAC slug
// used by the rendezvous subsystem to derive time-rotating meeting
// points. Signing private keys never leave this package; every other
// component is handed a *Manager or a public key blob.
package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/hkdf"
)

// Sentinel errors, matching the taxonomy in spec.md §7.
var (
	ErrNoSecureContext = errors.New("identity: no secure context available")
	ErrKeyImportFailed = errors.New("identity: key import failed")
	ErrVerifyFailed    = errors.New("identity: signature verification failed")
	ErrDecryptFailed   = errors.New("identity: decryption failed")
)

// fingerprintLen is the byte length truncated from SHA-256 before
// hex-encoding, producing the 16-hex-character fingerprint spec.md §3
// and §8 require.
const fingerprintLen = 8

// nonceLen is the AES-GCM IV length: 96 bits, per spec.md §4.1.
const nonceLen = 12

// Public is the exported half of an identity: the public key as an
// uncompressed SEC1 point (elliptic.Marshal) and its fingerprint.
type Public struct {
	KeyBytes    []byte
	Fingerprint string
}

// Manager owns a single ECDSA P-256 keypair for the lifetime of the
// local device identity. It is created once on first launch and never
// rotated (spec.md §3: "loss is equivalent to a new identity").
type Manager struct {
	priv *ecdsa.PrivateKey
	pub  Public
}

// Generate creates a brand-new P-256 keypair.
func Generate() (*Manager, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSecureContext, err)
	}
	return fromPrivateKey(priv)
}

// Import restores a Manager from a previously marshaled PKCS8 private
// key, as would be read back from local storage.
func Import(der []byte) (*Manager, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImportFailed, err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, ErrKeyImportFailed
	}
	return fromPrivateKey(priv)
}

func fromPrivateKey(priv *ecdsa.PrivateKey) (*Manager, error) {
	pubBytes := elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
	m := &Manager{
		priv: priv,
		pub: Public{
			KeyBytes:    pubBytes,
			Fingerprint: Fingerprint(pubBytes),
		},
	}
	return m, nil
}

// Marshal serializes the private key for local persistence (PKCS8 DER).
// Callers are responsible for keeping this off any synced/remote store;
// spec.md's non-goals exclude storing keys outside the local device.
func (m *Manager) Marshal() ([]byte, error) {
	return x509.MarshalPKCS8PrivateKey(m.priv)
}

// Public returns the exported public half of this identity.
func (m *Manager) Public() Public {
	return m.pub
}

// Fingerprint computes the stable 16-hex-character identity fingerprint
// of a raw public key blob: the first 8 bytes of SHA-256, hex-encoded.
func Fingerprint(pubKeyBytes []byte) string {
	sum := sha256.Sum256(pubKeyBytes)
	return hex.EncodeToString(sum[:fingerprintLen])
}

// FingerprintKey computes the same truncated-SHA-256 fingerprint, but of
// a raw symmetric key, used by IR to cache which shared key is in use
// without persisting the key itself (spec.md §4.1 fingerprint_key).
func FingerprintKey(key []byte) string {
	return Fingerprint(key)
}

// Sign produces an ECDSA signature (ASN.1 DER) over msg using this
// identity's private key.
func (m *Manager) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	return ecdsa.SignASN1(crand.Reader, m.priv, digest[:])
}

// Verify checks an ECDSA signature against a raw P-256 public key blob.
func Verify(pubKeyBytes, sig, msg []byte) error {
	x, y := elliptic.Unmarshal(elliptic.P256(), pubKeyBytes)
	if x == nil {
		return ErrKeyImportFailed
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	digest := sha256.Sum256(msg)
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return ErrVerifyFailed
	}
	return nil
}

// DeriveShared computes the pairwise AES-256-GCM key shared with a
// remote public key: ECDH over P-256, stretched through HKDF-SHA256.
// Both peers, computing this with their own private key and the other's
// public key, arrive at the same key (spec.md §8 property 3).
func (m *Manager) DeriveShared(peerPubKeyBytes []byte) ([]byte, error) {
	curve := ecdh.P256()

	myECDH, err := ecdhFromECDSA(m.priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImportFailed, err)
	}

	peerKey, err := curve.NewPublicKey(peerPubKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImportFailed, err)
	}

	secret, err := myECDH.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImportFailed, err)
	}

	kdf := hkdf.New(sha256.New, secret, nil, []byte("peermesh/pairwise-aes-gcm"))
	out := make([]byte, 32)
	if _, err := readFull(kdf, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyImportFailed, err)
	}
	return out, nil
}

// ecdhFromECDSA re-encodes an ECDSA P-256 private key as the equivalent
// crypto/ecdh key, since the two stdlib packages use distinct types for
// historical reasons (ecdsa predates ecdh).
func ecdhFromECDSA(priv *ecdsa.PrivateKey) (*ecdh.PrivateKey, error) {
	return priv.ECDH()
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Encrypt seals plaintext under key with a fresh random 96-bit nonce,
// returning (iv, ciphertext).
func Encrypt(key, plaintext []byte) (iv, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyImportFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrKeyImportFailed, err)
	}
	iv = make([]byte, nonceLen)
	if _, err := crand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoSecureContext, err)
	}
	ciphertext = gcm.Seal(nil, iv, plaintext, nil)
	return iv, ciphertext, nil
}

// Decrypt opens a ciphertext produced by Encrypt under the same key.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// RendezvousSlug derives the per-window meeting-point token: an
// HMAC-SHA256 of the pairwise key over the window index encoded as a
// 64-bit big-endian integer, truncated to a URL-safe token. Both peers
// derive the same slug for the same window (spec.md §8 property 4).
func RendezvousSlug(pairKey []byte, window int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(window))

	mac := hmac.New(sha256.New, pairKey)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	return base64.RawURLEncoding.EncodeToString(sum[:12])
}
