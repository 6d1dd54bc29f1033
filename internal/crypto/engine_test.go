package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoxlock/authcore/internal/config"
)

func newTestEngine(t *testing.T) *Engine {
	engine, err := NewEngine(&config.CryptoConfig{
		MasterKey: "3f9c2a1d5e8b4c7a9d0f1e2b3c4d5e6f3f9c2a1d5e8b4c7a9d0f1e2b3c4d5e6f",
		// Keep hashing cheap in tests.
		KDFIterations: 1000,
		ArgonTime:     1,
		ArgonMemory:   8 * 1024,
		ArgonThreads:  1,
	})
	require.NoError(t, err)
	return engine
}

func TestNewEngine_InvalidMasterKey(t *testing.T) {
	tests := []struct {
		name      string
		masterKey string
	}{
		{name: "empty", masterKey: ""},
		{name: "not hex", masterKey: "zzzz"},
		{name: "too short", masterKey: "deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(&config.CryptoConfig{MasterKey: tt.masterKey})
			assert.ErrorIs(t, err, ErrInvalidMasterKey)
		})
	}
}

func TestEngine_EncryptDecrypt_RoundTrip(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "short string", plaintext: "hello"},
		{name: "totp payload", plaintext: `{"secret":"JBSWY3DPEHPK3PXP","algorithm":"SHA1","digits":6,"period":30}`},
		{name: "binary-ish", plaintext: "\x00\x01\xff\xfe"},
		{name: "unicode", plaintext: "пароль-契約-🔐"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := engine.EncryptString(tt.plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, []byte(tt.plaintext), blob)

			got, err := engine.DecryptString(blob)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, got)
		})
	}
}

func TestEngine_Encrypt_EmptyIsNoOp(t *testing.T) {
	engine := newTestEngine(t)

	blob, err := engine.Encrypt(nil)
	require.NoError(t, err)
	assert.Empty(t, blob)

	plaintext, err := engine.Decrypt(nil)
	require.NoError(t, err)
	assert.Empty(t, plaintext)
}

func TestEngine_Encrypt_FreshNoncePerCall(t *testing.T) {
	engine := newTestEngine(t)

	a, err := engine.EncryptString("same input")
	require.NoError(t, err)
	b, err := engine.EncryptString("same input")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEngine_Decrypt_TamperDetection(t *testing.T) {
	engine := newTestEngine(t)

	blob, err := engine.EncryptString("sensitive payload")
	require.NoError(t, err)

	// Flipping any single byte must fail authentication, never return
	// altered plaintext.
	for i := range blob {
		tampered := make([]byte, len(blob))
		copy(tampered, blob)
		tampered[i] ^= 0x01

		_, err := engine.Decrypt(tampered)
		assert.ErrorIs(t, err, ErrDecryptionFailed, "byte %d", i)
	}
}

func TestEngine_Decrypt_MalformedBlob(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name string
		blob []byte
	}{
		{name: "truncated", blob: []byte{0x01, 0x02, 0x03}},
		{name: "nonce only", blob: make([]byte, 12)},
		{name: "garbage", blob: []byte(strings.Repeat("x", 64))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Decrypt(tt.blob)
			assert.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}

func TestEngine_Decrypt_SameMasterKeyRederives(t *testing.T) {
	engine := newTestEngine(t)

	blob, err := engine.EncryptString("survives restart")
	require.NoError(t, err)

	// A second engine from the same config must decrypt blobs sealed by the
	// first: the KDF salt is deterministic in the master key.
	second := newTestEngine(t)
	got, err := second.DecryptString(blob)
	require.NoError(t, err)
	assert.Equal(t, "survives restart", got)
}

func TestEngine_PasswordHashing(t *testing.T) {
	engine := newTestEngine(t)

	hash, err := engine.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	assert.True(t, engine.VerifyPassword("correct horse battery staple", hash))
	assert.False(t, engine.VerifyPassword("wrong password", hash))

	// Same password hashes differently thanks to a fresh salt.
	hash2, err := engine.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash2)
}

func TestEngine_VerifyPassword_MalformedHash(t *testing.T) {
	engine := newTestEngine(t)

	tests := []struct {
		name string
		hash string
	}{
		{name: "empty", hash: ""},
		{name: "plain text", hash: "not-a-hash"},
		{name: "wrong algorithm", hash: "$bcrypt$v=19$m=8,t=1,p=1$c2FsdA$ZGlnZXN0"},
		{name: "bad params", hash: "$argon2id$v=19$nonsense$c2FsdA$ZGlnZXN0"},
		{name: "bad base64 salt", hash: "$argon2id$v=19$m=8192,t=1,p=1$!!!$ZGlnZXN0"},
		{name: "bad base64 digest", hash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$!!!"},
		{name: "legacy hex digest", hash: strings.Repeat("ab", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, engine.VerifyPassword("anything", tt.hash))
			})
		})
	}
}

func TestEngine_CodeHashing(t *testing.T) {
	engine := newTestEngine(t)

	digest := engine.HashCode("483920")
	assert.Len(t, digest, 64) // hex sha256

	// Reproducible, unlike password hashing.
	assert.Equal(t, digest, engine.HashCode("483920"))

	assert.True(t, engine.VerifyCodeHash("483920", digest))
	assert.False(t, engine.VerifyCodeHash("483921", digest))
	assert.False(t, engine.VerifyCodeHash("483920", "not-hex"))
}

func TestEngine_DeriveSubKey(t *testing.T) {
	engine := newTestEngine(t)

	jwtKey := engine.DeriveSubKey("jwt-signing")
	assert.Len(t, jwtKey, 32)
	assert.Equal(t, jwtKey, engine.DeriveSubKey("jwt-signing"))
	assert.NotEqual(t, jwtKey, engine.DeriveSubKey("something-else"))
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	b, err := GenerateToken(32)
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestGenerateOTP(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateOTP(6)
		require.NoError(t, err)
		assert.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, r >= '0' && r <= '9')
		}
	}
}

func TestGenerateBackupCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateBackupCode()
		require.NoError(t, err)

		groups := strings.Split(code, "-")
		require.Len(t, groups, 3)
		for _, g := range groups {
			assert.Len(t, g, 4)
			for _, r := range g {
				assert.NotContains(t, "0O1IL", string(r))
				assert.Contains(t, backupAlphabet, string(r))
			}
		}
	}
}

func TestGenerateMasterKey(t *testing.T) {
	key, err := GenerateMasterKey()
	require.NoError(t, err)
	assert.Len(t, key, 64)

	_, err = NewEngine(&config.CryptoConfig{MasterKey: key, KDFIterations: 1000})
	assert.NoError(t, err)
}
