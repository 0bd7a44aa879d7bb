package support

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("IPTOASN_TEST_ENV", "value")
	if got := GetEnv("IPTOASN_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("GetEnv returned %s, want value", got)
	}

	if got := GetEnv("IPTOASN_TEST_ENV_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %s, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("IPTOASN_TEST_INT", " 42 ")
	t.Setenv("IPTOASN_TEST_INT_BAD", "forty")

	if got := GetEnvInt("IPTOASN_TEST_INT", 1); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}
	if got := GetEnvInt("IPTOASN_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("GetEnvInt returned %d, want fallback 7", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("IPTOASN_TEST_BOOL", tt.value)
			if got := GetEnvBool("IPTOASN_TEST_BOOL", tt.fallback); got != tt.want {
				t.Fatalf("GetEnvBool(%q) returned %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
