package llm

import "testing"

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		messages []Message
		want     int
	}{
		{"empty", nil, 0},
		{"one short", []Message{{Role: RoleUser, Content: "abcd"}}, 5},
		{"rounds up", []Message{{Role: RoleUser, Content: "abcde"}}, 6},
		{"two", []Message{{Role: RoleSystem, Content: ""}, {Role: RoleUser, Content: "12345678"}}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EstimateTokens(tt.messages); got != tt.want {
				t.Errorf("EstimateTokens = %d, want %d", got, tt.want)
			}
		})
	}
}
