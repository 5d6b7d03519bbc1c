package acp

import (
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
		wantErr bool
	}{
		{
			name:    "simple command",
			command: "claude-code acp",
			want:    []string{"claude-code", "acp"},
		},
		{
			name:    "quoted argument",
			command: `sh -c 'cd /dir && agent'`,
			want:    []string{"sh", "-c", "cd /dir && agent"},
		},
		{
			name:    "double quotes",
			command: `agent --name "my agent"`,
			want:    []string{"agent", "--name", "my agent"},
		},
		{
			name:    "empty command",
			command: "",
			wantErr: true,
		},
		{
			name:    "whitespace only",
			command: "   ",
			wantErr: true,
		},
		{
			name:    "unbalanced quote",
			command: `agent 'oops`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.command)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseCommand(%q) = %v, want error", tt.command, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand(%q): %v", tt.command, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseCommand(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}
