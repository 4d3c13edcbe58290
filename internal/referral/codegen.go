package referral

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	codeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeSegmentLength = 4
	codePrefixMaxLen  = 12
	defaultCodePrefix = "REF"
)

// CodeGenerator генерирует строку кода для префикса программы
type CodeGenerator func(prefix string) (string, error)

// GenerateCode возвращает код вида PREFIX-XXXX-XXXX
func GenerateCode(prefix string) (string, error) {
	first, err := randomSegment(codeSegmentLength)
	if err != nil {
		return "", err
	}
	second, err := randomSegment(codeSegmentLength)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", prefix, first, second), nil
}

// CodePrefix строит префикс кода из ключа программы
func CodePrefix(programKey string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(programKey) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == codePrefixMaxLen {
			break
		}
	}
	if b.Len() == 0 {
		return defaultCodePrefix
	}
	return b.String()
}

func randomSegment(n int) (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("ошибка генерации случайного сегмента кода: %w", err)
		}
		buf[i] = codeAlphabet[idx.Int64()]
	}
	return string(buf), nil
}
