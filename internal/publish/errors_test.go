package publish

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsAuthExpired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "token", err: &PublishError{Op: "create_post", Message: "access Token expired"}, want: true},
		{name: "session", err: &PublishError{Op: "upload", Message: "SESSION invalidated"}, want: true},
		{name: "oauth", err: errors.New("OAuthException: please re-login"), want: true},
		{name: "unauthorized", err: fmt.Errorf("request failed: 401 Unauthorized"), want: true},
		{name: "rate limit", err: &PublishError{Op: "create_post", Message: "rate limit exceeded"}, want: false},
		{name: "enhance", err: &EnhanceError{Message: "caption model timeout"}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthExpired(tt.err); got != tt.want {
				t.Fatalf("IsAuthExpired(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	t.Parallel()
	if IsRecoverable(nil) {
		t.Fatal("nil error is not recoverable")
	}
	if IsRecoverable(errors.New("token expired")) {
		t.Fatal("auth errors are not recoverable")
	}
	if !IsRecoverable(errors.New("media too large")) {
		t.Fatal("plain errors are recoverable")
	}
}
