package classroom

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// ══════════════════════════════════════════════════════════════════════════════
// CODE GENERATION
// Коды присоединения генерируются криптографически стойким источником
// случайности. Уникальность кода в хранилище проверяет вызывающая сторона.
// ══════════════════════════════════════════════════════════════════════════════

var alphabetSize = big.NewInt(int64(len(CodeAlphabet)))

// GenerateCode создаёт новый случайный код класса.
func GenerateCode() (ClassCode, error) {
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("generate class code: %w", err)
		}
		buf[i] = CodeAlphabet[n.Int64()]
	}
	return ClassCode(buf), nil
}

// MustGenerateCode создаёт код и паникует при недоступности источника
// случайности. Используется только в тестах и инструментах.
func MustGenerateCode() ClassCode {
	code, err := GenerateCode()
	if err != nil {
		panic(err)
	}
	return code
}
