package activation

import (
	"os"
	"strconv"
	"testing"
)

func TestListeners_NoEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() unexpected error: %v", err)
	}
	if listeners != nil {
		t.Errorf("expected nil listeners when no env vars set, got %v", listeners)
	}
}

func TestListeners_WrongPID(t *testing.T) {
	// Activation targeting a different process must be ignored
	t.Setenv("LISTEN_PID", "99999")
	t.Setenv("LISTEN_FDS", "1")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() unexpected error: %v", err)
	}
	if listeners != nil {
		t.Errorf("expected nil listeners when PID doesn't match, got %v", listeners)
	}
}

func TestListeners_InvalidPID(t *testing.T) {
	t.Setenv("LISTEN_PID", "not-a-number")
	t.Setenv("LISTEN_FDS", "1")

	if _, err := Listeners(); err == nil {
		t.Error("expected error for invalid LISTEN_PID, got nil")
	}
}

func TestListeners_InvalidFDS(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	t.Setenv("LISTEN_FDS", "not-a-number")

	if _, err := Listeners(); err == nil {
		t.Error("expected error for invalid LISTEN_FDS, got nil")
	}
}

func TestListeners_ZeroFDs(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	t.Setenv("LISTEN_FDS", "0")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() unexpected error: %v", err)
	}
	if listeners != nil {
		t.Errorf("expected nil listeners when LISTEN_FDS=0, got %v", listeners)
	}

	// Early return leaves the activation variables in place
	if os.Getenv("LISTEN_PID") == "" {
		t.Error("LISTEN_PID was scrubbed despite no listeners being adopted")
	}
}

func TestIntEnv(t *testing.T) {
	for _, tc := range []struct {
		name    string
		value   string
		want    int
		wantErr bool
	}{
		{name: "unset", value: "", want: 0},
		{name: "zero", value: "0", want: 0},
		{name: "positive", value: "42", want: 42},
		{name: "garbage", value: "not-a-number", wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("PROMIRROR_TEST_INT", tc.value)

			got, err := intEnv("PROMIRROR_TEST_INT")
			if tc.wantErr {
				if err == nil {
					t.Fatal("intEnv accepted a non-numeric value")
				}
				return
			}
			if err != nil {
				t.Fatalf("intEnv failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("intEnv = %d, want %d", got, tc.want)
			}
		})
	}
}
