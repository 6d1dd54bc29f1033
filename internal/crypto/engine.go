package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/knoxlock/authcore/internal/config"
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidMasterKey = errors.New("master key must be at least 32 hex characters")
)

// backupAlphabet excludes visually ambiguous characters (0/O/1/I/L).
const backupAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	backupGroups    = 3
	backupGroupSize = 4

	keySize = 32
)

// Engine provides the cryptographic primitives for the auth core. All keys
// are derived from a single master key: the AEAD key via PBKDF2 with a
// deterministic salt (so the same master key always re-derives the same key
// without storing the salt), and per-purpose subkeys via keyed HMAC.
type Engine struct {
	aead    cipher.AEAD
	hmacKey []byte
	cfg     *config.CryptoConfig
}

func NewEngine(cfg *config.CryptoConfig) (*Engine, error) {
	master, err := hex.DecodeString(cfg.MasterKey)
	if err != nil || len(master) < 16 {
		return nil, ErrInvalidMasterKey
	}

	// Salt is bound to the master key itself; losing the key loses everything
	// anyway, so deriving the salt from it adds no exposure.
	salt := sha256.Sum256(append([]byte("authcore-kdf-salt:"), master...))

	iterations := cfg.KDFIterations
	if iterations <= 0 {
		iterations = 600_000
	}
	key := pbkdf2.Key(master, salt[:], iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init aead: %w", err)
	}

	return &Engine{
		aead:    aead,
		hmacKey: key,
		cfg:     cfg,
	}, nil
}

// Encrypt seals plaintext as nonce‖ciphertext‖tag. Empty input is a no-op:
// it maps to empty output, never to an encrypted empty string.
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. A malformed blob or failed
// authentication tag returns ErrDecryptionFailed; partial plaintext is never
// returned. Callers treat an empty result as "no data", so failures must
// propagate rather than degrade to empty.
func (e *Engine) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < e.aead.NonceSize()+e.aead.Overhead() {
		return nil, ErrDecryptionFailed
	}

	nonce, ciphertext := blob[:e.aead.NonceSize()], blob[e.aead.NonceSize():]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptString is Encrypt for string payloads.
func (e *Engine) EncryptString(plaintext string) ([]byte, error) {
	return e.Encrypt([]byte(plaintext))
}

// DecryptString is Decrypt returning a string.
func (e *Engine) DecryptString(blob []byte) (string, error) {
	plaintext, err := e.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// HashPassword hashes a password-class secret with argon2id and encodes the
// result in the PHC string format, so the algorithm and its parameters are
// explicit in the stored value.
func (e *Engine) HashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	time, memory, threads := e.argonParams()
	digest := argon2.IDKey([]byte(password), salt, time, memory, threads, keySize)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, memory, time, threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	), nil
}

// VerifyPassword reports whether password matches an encoded hash. Any
// malformed hash yields false, never an error or panic.
func (e *Engine) VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory uint32
	var time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(digest) == 0 {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(digest)))
	return subtle.ConstantTimeCompare(computed, digest) == 1
}

// HashCode computes a keyed HMAC-SHA256 over a short code and returns it hex
// encoded. Used for codes that need fast, reproducible equality checks
// (backup codes, verification codes, session tokens, approval codes).
func (e *Engine) HashCode(code string) string {
	mac := hmac.New(sha256.New, e.hmacKey)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCodeHash compares a code against a stored hex HMAC in constant time.
func (e *Engine) VerifyCodeHash(code, hexDigest string) bool {
	expected, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, e.hmacKey)
	mac.Write([]byte(code))
	return hmac.Equal(mac.Sum(nil), expected)
}

// DeriveSubKey expands a purpose-bound subkey from the master-derived key, so
// every key in the system traces to the single master secret.
func (e *Engine) DeriveSubKey(context string) []byte {
	mac := hmac.New(sha256.New, e.hmacKey)
	mac.Write([]byte("authcore-subkey:" + context))
	return mac.Sum(nil)
}

// GenerateToken returns n bytes of secure randomness, base64url encoded.
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateOTP returns a numeric code of the given number of digits, drawn
// uniformly so leading zeros are as likely as any other digit.
func GenerateOTP(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// GenerateBackupCode renders three dash-separated groups from an alphabet
// without visually ambiguous characters, e.g. "K7MB-XW2R-9QFD".
func GenerateBackupCode() (string, error) {
	groups := make([]string, 0, backupGroups)
	alphabetLen := big.NewInt(int64(len(backupAlphabet)))

	for g := 0; g < backupGroups; g++ {
		var sb strings.Builder
		for i := 0; i < backupGroupSize; i++ {
			idx, err := rand.Int(rand.Reader, alphabetLen)
			if err != nil {
				return "", fmt.Errorf("failed to generate backup code: %w", err)
			}
			sb.WriteByte(backupAlphabet[idx.Int64()])
		}
		groups = append(groups, sb.String())
	}

	return strings.Join(groups, "-"), nil
}

// GenerateMasterKey returns a fresh hex-encoded master key. Called at startup
// when no key is configured; the result must be persisted by the operator or
// all encrypted rows become unrecoverable.
func GenerateMasterKey() (string, error) {
	b := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate master key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (e *Engine) argonParams() (time, memory uint32, threads uint8) {
	time, memory, threads = e.cfg.ArgonTime, e.cfg.ArgonMemory, e.cfg.ArgonThreads
	if time == 0 {
		time = 2
	}
	if memory == 0 {
		memory = 64 * 1024
	}
	if threads == 0 {
		threads = 2
	}
	return time, memory, threads
}
