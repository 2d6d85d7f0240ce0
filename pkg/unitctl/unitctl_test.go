package unitctl

import "testing"

func TestParseVerb(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Verb
		ok   bool
	}{
		{"", Restart, true},
		{"start", Start, true},
		{" STOP ", Stop, true},
		{"try-restart", TryRestart, true},
		{"reload", Reload, true},
		{"enable", "", false},
	}
	for _, tc := range cases {
		got, err := ParseVerb(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("ParseVerb(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestUnitName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"nginx":             "nginx.service",
		" nginx ":           "nginx.service",
		"backup.timer":      "backup.timer",
		"db.service":        "db.service",
		"app@1":             "app@1.service",
		"multi-user.target": "multi-user.target",
	}
	for in, want := range cases {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q) = %q, want %q", in, got, want)
		}
	}
}
