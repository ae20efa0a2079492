package cli

import "testing"

func TestRunExitCodes(t *testing.T) {
	clearServerEnvVarsForTest(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "no args", args: nil, want: 2},
		{name: "help", args: []string{"help"}, want: 0},
		{name: "version", args: []string{"version"}, want: 0},
		{name: "unknown", args: []string{"tunnel"}, want: 2},
		{name: "server missing domain", args: []string{"server"}, want: 2},
		{name: "token missing secret", args: []string{"token"}, want: 2},
		{name: "token bad subject", args: []string{"token", "--secret", "s", "--sub", "not-a-uuid"}, want: 1},
		{name: "token ok", args: []string{"token", "--secret", "s", "--email", "dev@example.com"}, want: 0},
		{name: "secret", args: []string{"secret"}, want: 0},
	}
	for _, tt := range tests {
		if got := Run(tt.args); got != tt.want {
			t.Fatalf("%s: Run(%v) = %d, want %d", tt.name, tt.args, got, tt.want)
		}
	}
}
