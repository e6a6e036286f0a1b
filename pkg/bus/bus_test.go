package bus

import "testing"

func TestValidSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		wantErr bool
	}{
		{name: "committed", subject: "ledgerd.resources.committed"},
		{name: "synced", subject: "ledgerd.references.synced"},
		{name: "foreign prefix", subject: "orders.created", wantErr: true},
		{name: "bare prefix", subject: "ledgerd.", wantErr: true},
		{name: "empty", subject: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validSubject(tt.subject)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validSubject(%q) error = %v, wantErr %v", tt.subject, err, tt.wantErr)
			}
		})
	}
}
