// Package validation содержит проверки входных данных сервиса краудфандинга.
package validation

// IsValidAddress проверяет синтаксис идентификатора кошелька:
// префикс "0x" и ровно 40 шестнадцатеричных символов.
// Контрольная сумма регистра (EIP-55) не проверяется: реестр доверяет
// внешнему резолверу идентичности и нормализует адреса к нижнему регистру.
func IsValidAddress(addr string) bool {
	if len(addr) != 42 {
		return false
	}
	if addr[0] != '0' || (addr[1] != 'x' && addr[1] != 'X') {
		return false
	}

	for i := 2; i < len(addr); i++ {
		ch := addr[i]
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'f':
		case ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}

	return true
}
