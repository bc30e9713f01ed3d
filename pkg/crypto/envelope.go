// Package crypto 实现文件级信封加密：每个文件使用一次性的数据密钥加密，
// 数据密钥本身再由系统主密钥派生出的密钥加密密钥（KEK）封装后持久化。
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize 是数据密钥和主密钥的字节长度。
const KeySize = chacha20poly1305.KeySize

var (
	// ErrInvalidMasterKey 表示主密钥缺失或格式错误，属于启动期配置错误。
	ErrInvalidMasterKey = errors.New("crypto: invalid master key")
	// ErrInvalidKey 表示传入的数据密钥长度不正确。
	ErrInvalidKey = errors.New("crypto: invalid data key")
	// ErrDecryptionFailed 表示完整性校验失败（篡改、截断或密钥错误），重试不会改变结果。
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

var (
	kekInfo       = []byte("docvault key-encryption-key v1")
	wrapAAD       = []byte("docvault/wrapped-key/v1")
	nonceOverhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
)

// ParseMasterKey 解析 base64 编码的主密钥，长度必须恰好为 KeySize 字节。
func ParseMasterKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidMasterKey)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base64", ErrInvalidMasterKey)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidMasterKey, KeySize, len(raw))
	}
	return raw, nil
}

// EncodeKey 以 base64 形式输出密钥，供 keygen 命令使用。
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// GenerateKey 生成一个新的随机数据密钥。
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("生成数据密钥失败: %w", err)
	}
	return key, nil
}

// Envelope 持有由主密钥派生的 KEK，负责数据密钥的封装与解封。
// 进程启动时构造一次，之后只读，可并发使用。
type Envelope struct {
	kek []byte
}

// NewEnvelope 使用原始主密钥字节构造 Envelope。
func NewEnvelope(masterKey []byte) (*Envelope, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidMasterKey, KeySize, len(masterKey))
	}
	kek := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, kekInfo), kek); err != nil {
		return nil, fmt.Errorf("%w: derive kek: %v", ErrInvalidMasterKey, err)
	}
	return &Envelope{kek: kek}, nil
}

// NewEnvelopeFromString 解析 base64 主密钥并构造 Envelope。
func NewEnvelopeFromString(encoded string) (*Envelope, error) {
	raw, err := ParseMasterKey(encoded)
	if err != nil {
		return nil, err
	}
	defer Wipe(raw)
	return NewEnvelope(raw)
}

// Wrap 用 KEK 加密数据密钥，输出 nonce || ciphertext。
func (e *Envelope) Wrap(key []byte) ([]byte, error) {
	if e == nil || len(e.kek) != KeySize {
		return nil, ErrInvalidMasterKey
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return seal(e.kek, key, wrapAAD)
}

// Unwrap 是 Wrap 的逆操作。任何篡改或主密钥不匹配都返回 ErrDecryptionFailed。
func (e *Envelope) Unwrap(wrapped []byte) ([]byte, error) {
	if e == nil || len(e.kek) != KeySize {
		return nil, ErrInvalidMasterKey
	}
	key, err := open(e.kek, wrapped, wrapAAD)
	if err != nil {
		return nil, err
	}
	if len(key) != KeySize {
		Wipe(key)
		return nil, ErrDecryptionFailed
	}
	return key, nil
}

// Encrypt 使用数据密钥对明文做认证加密，输出 nonce || ciphertext。
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return seal(key, plaintext, nil)
}

// Decrypt 解密 Encrypt 的输出。完整性校验失败时不会返回任何明文。
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return open(key, ciphertext, nil)
}

// Wipe 将密钥材料清零。
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("初始化 AEAD 失败: %w", err)
	}
	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("生成 nonce 失败: %w", err)
	}
	return aead.Seal(out, out, plaintext, aad), nil
}

func open(key, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < nonceOverhead {
		return nil, ErrDecryptionFailed
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("初始化 AEAD 失败: %w", err)
	}
	nonce, body := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
