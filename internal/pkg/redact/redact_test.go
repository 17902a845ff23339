package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Пакет unit-тестов для internal/pkg/redact.go.
//
// Покрытие (табличные тесты):
//   - Username: happy-path (ASCII), короткие имена (≤2), пустая строка,
//     Unicode-имена (многобайтовые руны).
//   - Литералы Token/Password.

// TestUsername_Table — табличные тесты на редактирование username.
func TestUsername_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "ASCII_gt_2", in: "alice", want: "al***"},
		{name: "ASCII_len_1", in: "a", want: "***"},
		{name: "ASCII_len_2", in: "ab", want: "***"},
		{name: "empty_string", in: "", want: "***"},
		{name: "unicode_gt_2_runes", in: "юзернейм", want: "юз***"},
		{name: "unicode_len_2_runes", in: "юз", want: "***"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.want, Username(tt.in))
		})
	}
}

// TestLiterals_TokenAndPassword — литералы для токенов/паролей неизменны.
func TestLiterals_TokenAndPassword(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[REDACTED_TOKEN]", Token())
	require.Equal(t, "[REDACTED_PASSWORD]", Password())
}
