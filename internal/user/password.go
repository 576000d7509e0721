package user

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	saltLen      = 16
	hashRounds   = 100_000
	roundSepByte = 0x1f // 轮间分隔符，避免拼接歧义
)

// GenerateSaltHex 生成每账户独立的随机盐（hex 编码）。
func GenerateSaltHex() (string, error) {
	b := make([]byte, saltLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashPassword 多轮 SHA256(salt | sep | password | sep | prev) 的口令散列。
// 轮数拉高暴力代价；同 salt 同口令结果可复现。
func HashPassword(password, saltHex string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is empty")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("invalid salt: %w", err)
	}

	digest := make([]byte, 0, sha256.Size)
	sep := []byte{roundSepByte}
	for i := 0; i < hashRounds; i++ {
		h := sha256.New()
		h.Write(salt)
		h.Write(sep)
		h.Write([]byte(password))
		h.Write(sep)
		h.Write(digest)
		digest = h.Sum(digest[:0])
	}
	return hex.EncodeToString(digest), nil
}

// VerifyPassword 常数时间比较，避免时序侧信道。
func VerifyPassword(password, saltHex, wantHashHex string) bool {
	got, err := HashPassword(password, saltHex)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(wantHashHex)) == 1
}
