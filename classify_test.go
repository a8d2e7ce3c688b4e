package goSession

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
		msg  string
	}{
		{"invalid email", NewProviderError(CodeInvalidEmail, "badly formatted"), KindInvalidEmailFormat, ""},
		{"email in use", NewProviderError(CodeEmailAlreadyInUse, "taken"), KindEmailAlreadyInUse, ""},
		{"weak password", NewProviderError(CodeWeakPassword, "short"), KindWeakPassword, ""},
		{"wrong password", NewProviderError(CodeWrongPassword, "invalid"), KindWrongCredentials, ""},
		{"invalid credential", NewProviderError(CodeInvalidCredential, "malformed"), KindWrongCredentials, ""},
		{"code case and space", NewProviderError(" Wrong-Password ", ""), KindWrongCredentials, ""},
		{"user not found", NewProviderError(CodeUserNotFound, "gone"), KindAccountNotFound, ""},
		{"network code", NewProviderError(CodeNetworkRequestFailed, "offline"), KindNetworkUnreachable, ""},
		{"provider wraps net error", &ProviderError{Code: "unavailable", Err: netErr{}}, KindNetworkUnreachable, ""},
		{"unknown provider code", NewProviderError(CodeUserDisabled, "The user account has been disabled."), KindUnclassified, "The user account has been disabled."},
		{"wrapped provider error", fmt.Errorf("sign in: %w", NewProviderError(CodeWeakPassword, "")), KindWeakPassword, ""},
		{"decode failure", &ProfileDecodeError{UID: "u1", Field: "totalPoints", Err: errors.New("bad")}, KindProfileDecodeFailure, ""},
		{"missing profile", errProfileMissing, KindProfileMissing, ""},
		{"write failure", &ProfileWriteError{UID: "u1", Op: "create", Err: redis.ErrClosed}, KindProfileWriteFailure, ""},
		{"deadline", context.DeadlineExceeded, KindNetworkUnreachable, ""},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), KindNetworkUnreachable, ""},
		{"redis pool timeout", redis.ErrPoolTimeout, KindNetworkUnreachable, ""},
		{"unknown", errors.New("disk on fire"), KindUnclassified, "disk on fire"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err)
			if ce == nil {
				t.Fatal("expected classification")
			}
			if ce.Kind != tt.want {
				t.Fatalf("kind = %v, want %v", ce.Kind, tt.want)
			}
			want := tt.msg
			if want == "" {
				want = tt.want.Message()
			}
			if ce.Message != want {
				t.Fatalf("message = %q, want %q", ce.Message, want)
			}
			if !errors.Is(ce, tt.err) {
				t.Fatal("classified error must wrap the original")
			}
		})
	}
}

func TestClassifyNilAndIdempotent(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("nil must classify as nil")
	}
	first := Classify(NewProviderError(CodeWrongPassword, ""))
	if again := Classify(first); again != first {
		t.Fatal("classifying a classified error must return it unchanged")
	}
	if again := Classify(fmt.Errorf("wrapped: %w", first)); again != first {
		t.Fatal("wrapped classified error must be returned unchanged")
	}
}

func TestErrorKindStrings(t *testing.T) {
	kinds := []ErrorKind{
		KindUnclassified, KindInvalidEmailFormat, KindEmailAlreadyInUse, KindWeakPassword,
		KindWrongCredentials, KindAccountNotFound, KindNetworkUnreachable,
		KindProfileDecodeFailure, KindProfileWriteFailure, KindProfileMissing,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		if k.String() == "" || k.Message() == "" {
			t.Fatalf("kind %d has empty name or message", k)
		}
		if seen[k.String()] {
			t.Fatalf("duplicate kind name %q", k.String())
		}
		seen[k.String()] = true
	}
}
