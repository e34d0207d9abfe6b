package publish

import (
	"context"
	"os"
	"strings"
)

// CredentialResolver looks up the credentials for a platform. ok=false means
// the platform is not configured at all and the publish is simulated.
type CredentialResolver interface {
	Resolve(ctx context.Context, platform Platform, workspace string) (creds Credentials, ok bool, err error)
}

// ResolverFunc adapts a function to CredentialResolver.
type ResolverFunc func(ctx context.Context, platform Platform, workspace string) (Credentials, bool, error)

func (f ResolverFunc) Resolve(ctx context.Context, platform Platform, workspace string) (Credentials, bool, error) {
	return f(ctx, platform, workspace)
}

// SimulatedResolver never resolves credentials, forcing dry runs.
type SimulatedResolver struct{}

func (SimulatedResolver) Resolve(context.Context, Platform, string) (Credentials, bool, error) {
	return Credentials{}, false, nil
}

// StaticResolver serves fixed credentials per platform.
type StaticResolver map[Platform]Credentials

func (r StaticResolver) Resolve(_ context.Context, platform Platform, _ string) (Credentials, bool, error) {
	creds, ok := r[platform]
	if !ok {
		return Credentials{}, false, nil
	}
	if err := creds.Validate(platform); err != nil {
		return Credentials{}, false, err
	}
	return creds, true, nil
}

// Validate checks that the fields platform needs are present.
func (c Credentials) Validate(platform Platform) error {
	var missing []string
	if strings.TrimSpace(c.AccessToken) == "" {
		missing = append(missing, "access_token")
	}
	if platform != TikTok && strings.TrimSpace(c.PageOrAccountID) == "" {
		missing = append(missing, "page_or_account_id")
	}
	if len(missing) > 0 {
		return ConfigurationError{Provider: string(platform), Variables: missing}
	}
	return nil
}

// EnvResolver reads SMM_<PLATFORM>_ACCESS_TOKEN and SMM_<PLATFORM>_ACCOUNT_ID.
// The workspace is ignored.
type EnvResolver struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
}

// Resolve implements CredentialResolver.
func (r EnvResolver) Resolve(_ context.Context, platform Platform, _ string) (Credentials, bool, error) {
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	tokenVar, idVar := envNames(platform)
	get := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	creds := Credentials{
		AccessToken:     get(tokenVar),
		PageOrAccountID: get(idVar),
	}
	if creds.AccessToken == "" && creds.PageOrAccountID == "" {
		return Credentials{}, false, nil
	}

	var missing []string
	if creds.AccessToken == "" {
		missing = append(missing, tokenVar)
	}
	if platform != TikTok && creds.PageOrAccountID == "" {
		missing = append(missing, idVar)
	}
	if len(missing) > 0 {
		return Credentials{}, false, ConfigurationError{Provider: string(platform), Variables: missing}
	}
	return creds, true, nil
}

func envNames(platform Platform) (token, id string) {
	prefix := "SMM_" + strings.ToUpper(string(platform))
	return prefix + "_ACCESS_TOKEN", prefix + "_ACCOUNT_ID"
}
