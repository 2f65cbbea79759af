package cmd

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"golang.org/x/oauth2"

	"github.com/thisloke/google-photo-sync-immich/internal/googleauth"
)

// fakeCredentialSource fails Client with a fixed error until Authorize has
// run, then succeeds.
type fakeCredentialSource struct {
	clientErr  error
	authorized bool
	authErr    error
}

func (f *fakeCredentialSource) Client(ctx context.Context) (*http.Client, error) {
	if !f.authorized && f.clientErr != nil {
		return nil, f.clientErr
	}
	return &http.Client{}, nil
}

func (f *fakeCredentialSource) Authorize(ctx context.Context, opts googleauth.AuthorizeOptions) (*oauth2.Token, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	f.authorized = true
	return &oauth2.Token{AccessToken: "at"}, nil
}

func TestAuthedClientMissingCredentialAuthorizes(t *testing.T) {
	store := &fakeCredentialSource{
		clientErr: &googleauth.AuthRequiredError{},
	}

	client, err := authedClient(context.Background(), &RootFlags{}, store)
	if err != nil {
		t.Fatalf("authedClient: %v", err)
	}
	if client == nil {
		t.Fatal("expected a client")
	}
	if !store.authorized {
		t.Error("absent credential did not trigger authorization")
	}
}

func TestAuthedClientRefreshFailureAuthorizes(t *testing.T) {
	store := &fakeCredentialSource{
		clientErr: &googleauth.RefreshFailedError{Cause: errors.New("invalid_grant")},
	}

	if _, err := authedClient(context.Background(), &RootFlags{}, store); err != nil {
		t.Fatalf("authedClient: %v", err)
	}
	if !store.authorized {
		t.Error("rejected refresh token did not trigger authorization")
	}
}

func TestAuthedClientNoInputNeverPrompts(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"missing credential", &googleauth.AuthRequiredError{}},
		{"refresh failure", &googleauth.RefreshFailedError{Cause: errors.New("revoked")}},
	}
	for _, tc := range cases {
		store := &fakeCredentialSource{clientErr: tc.err}
		_, err := authedClient(context.Background(), &RootFlags{NoInput: true}, store)
		if err == nil {
			t.Errorf("%s: expected error with --no-input", tc.name)
		}
		if store.authorized {
			t.Errorf("%s: authorization ran despite --no-input", tc.name)
		}
	}
}

func TestAuthedClientUnrelatedErrorPassesThrough(t *testing.T) {
	cause := errors.New("disk on fire")
	store := &fakeCredentialSource{clientErr: cause}

	_, err := authedClient(context.Background(), &RootFlags{}, store)
	if !errors.Is(err, cause) {
		t.Errorf("expected passthrough of %v, got %v", cause, err)
	}
	if store.authorized {
		t.Error("authorization ran for an unrelated error")
	}
}

func TestAuthedClientAuthorizeFailureIsFatal(t *testing.T) {
	authErr := errors.New("user closed the browser")
	store := &fakeCredentialSource{
		clientErr: &googleauth.AuthRequiredError{},
		authErr:   authErr,
	}

	if _, err := authedClient(context.Background(), &RootFlags{}, store); !errors.Is(err, authErr) {
		t.Errorf("expected authorization failure, got %v", err)
	}
}
