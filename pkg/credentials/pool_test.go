package credentials

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func testCredential(n int) Credential {
	return Credential{
		ConsumerKey:       fmt.Sprintf("consumer-key-%d", n),
		ConsumerSecret:    fmt.Sprintf("consumer-secret-%d", n),
		AccessToken:       fmt.Sprintf("access-token-%d", n),
		AccessTokenSecret: fmt.Sprintf("access-secret-%d", n),
	}
}

func testCredentials(n int) []Credential {
	creds := make([]Credential, n)
	for i := range creds {
		creds[i] = testCredential(i)
	}
	return creds
}

func TestNewPool_Validation(t *testing.T) {
	missingSecret := testCredential(1)
	missingSecret.AccessTokenSecret = ""

	tests := []struct {
		name        string
		creds       []Credential
		expectError error
		errorMsg    string
	}{
		{
			name:  "single credential",
			creds: testCredentials(1),
		},
		{
			name:  "three credentials",
			creds: testCredentials(3),
		},
		{
			name:        "nil list",
			creds:       nil,
			expectError: ErrEmptyPool,
		},
		{
			name:        "empty list",
			creds:       []Credential{},
			expectError: ErrEmptyPool,
		},
		{
			name:        "second credential missing access token secret",
			creds:       []Credential{testCredential(0), missingSecret},
			expectError: ErrMissingSecret,
			errorMsg:    "invalid credential: auth[1]: access_token_secret is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewPool(tt.creds)

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Fatalf("NewPool() error = %v, want %v", err, tt.expectError)
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				if pool != nil {
					t.Error("Pool should be nil on error")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if pool.Len() != len(tt.creds) {
				t.Errorf("Len() = %d, want %d", pool.Len(), len(tt.creds))
			}
			if pool.Index() != 0 {
				t.Errorf("Index() = %d, want 0", pool.Index())
			}
		})
	}
}

func TestNewPool_CredentialError(t *testing.T) {
	bad := testCredential(0)
	bad.ConsumerKey = ""

	_, err := NewPool([]Credential{bad})

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("Expected *CredentialError, got %T", err)
	}
	if credErr.Index != 0 || credErr.Field != "consumer_key" {
		t.Errorf("CredentialError = %+v, want index 0 field consumer_key", credErr)
	}
}

func TestPool_AdvanceRoundRobin(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7} {
		t.Run(fmt.Sprintf("pool_of_%d", n), func(t *testing.T) {
			pool, err := NewPool(testCredentials(n))
			if err != nil {
				t.Fatalf("NewPool() error = %v", err)
			}

			start := pool.Current()
			for i := 1; i <= n; i++ {
				got := pool.Advance()
				want := testCredential(i % n)
				if got != want {
					t.Errorf("Advance() #%d = %s, want %s", i, got, want)
				}
				if pool.Current() != got {
					t.Errorf("Current() after Advance() #%d differs from returned credential", i)
				}
			}

			if pool.Current() != start {
				t.Errorf("After %d advances Current() = %s, want %s", n, pool.Current(), start)
			}
			if pool.Index() != 0 {
				t.Errorf("Index() = %d, want 0", pool.Index())
			}
		})
	}
}

func TestNewPool_CopiesInput(t *testing.T) {
	creds := testCredentials(2)
	pool, err := NewPool(creds)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	creds[0].ConsumerKey = "mutated"
	if pool.Current().ConsumerKey == "mutated" {
		t.Error("Pool should not share the caller's slice")
	}
}

func TestCredential_IDHidesSecrets(t *testing.T) {
	c := testCredential(4)

	if got := c.ID(); got != "cons****-4" {
		t.Errorf("ID() = %q, want %q", got, "cons****-4")
	}
	if s := fmt.Sprintf("%v", c); strings.Contains(s, c.ConsumerSecret) || strings.Contains(s, c.AccessToken) {
		t.Errorf("formatted credential leaks secrets: %s", s)
	}
	if got := (Credential{ConsumerKey: "ab"}).ID(); got != "****" {
		t.Errorf("short key ID() = %q, want ****", got)
	}
}

func TestPool_IDs(t *testing.T) {
	pool, err := NewPool(testCredentials(2))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	ids := pool.IDs()
	if len(ids) != 2 {
		t.Fatalf("IDs() len = %d, want 2", len(ids))
	}
	if ids[0] == ids[1] {
		t.Errorf("IDs() should differ per credential, got %v", ids)
	}
	for _, id := range ids {
		if !strings.Contains(id, "****") {
			t.Errorf("ID %q is not masked", id)
		}
	}
}
