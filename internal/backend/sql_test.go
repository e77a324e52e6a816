package backend

import "testing"

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/data/quickkv.db", "file:/data/quickkv.db?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"},
		{"file:/data/quickkv.db?mode=rwc", "file:/data/quickkv.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"},
		{"file:x.db?_pragma=synchronous(NORMAL)", "file:x.db?_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"},
	}

	for _, tt := range tests {
		if got := sqliteDSN(tt.in); got != tt.want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
