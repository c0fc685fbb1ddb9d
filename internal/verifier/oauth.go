// ABOUTME: OAuth access token verification via remote provider introspection
// ABOUTME: Provider outages are retryable, never treated as a denial

package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/openkeys/keygate/internal/method"
)

// OAuthCredential is a bearer access token to introspect against the
// provider's userinfo endpoint.
type OAuthCredential struct {
	AccessToken string `json:"accessToken"`
}

// OAuthProviderConfig wires one OAuth kind to its introspection endpoint.
type OAuthProviderConfig struct {
	Type        method.Type `yaml:"auth_method_type"`
	UserInfoURL string      `yaml:"userinfo_url"`
	AppID       string      `yaml:"app_id"`
}

// userInfoResponse covers the id field shapes the supported providers
// return ("id" for Discord, "sub" for Google).
type userInfoResponse struct {
	ID  string `json:"id"`
	Sub string `json:"sub"`
}

// oauthVerifier introspects tokens with bounded retries. The provider is
// a black box: a 401 means the token is bad, an outage means try again
// later. An outage must never surface as an authorization denial.
type oauthVerifier struct {
	provider OAuthProviderConfig
	client   *http.Client
}

// oauthMaxTries bounds introspection attempts per credential.
const oauthMaxTries = 3

func (o *oauthVerifier) verify(ctx context.Context, cred Credential) (method.CanonicalID, error) {
	req := cred.OAuth
	if req == nil {
		return method.CanonicalID{}, fmt.Errorf("%w: missing oauth payload", ErrMalformedCredential)
	}
	if req.AccessToken == "" {
		return method.CanonicalID{}, fmt.Errorf("%w: missing access token", ErrMalformedCredential)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond

	userID, err := backoff.Retry(ctx, func() (string, error) {
		return o.introspect(ctx, req.AccessToken)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(oauthMaxTries))
	if err != nil {
		return method.CanonicalID{}, err
	}

	sum := sha256.Sum256([]byte(userID + ":" + o.provider.AppID))
	return method.CanonicalID{
		Type:   cred.Type,
		ID:     "0x" + hex.EncodeToString(sum[:]),
		UserID: userID,
		AppID:  o.provider.AppID,
	}, nil
}

// introspect performs one userinfo round trip. Token rejection is
// permanent; transport failures and 5xx responses are retryable.
func (o *oauthVerifier) introspect(ctx context.Context, token string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.provider.UserInfoURL, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: building request: %v", ErrMalformedCredential, err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", backoff.Permanent(fmt.Errorf("%w: provider rejected token (%d)", ErrInvalidSignature, resp.StatusCode))
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: provider returned %d", ErrProviderUnavailable, resp.StatusCode)
	default:
		return "", backoff.Permanent(fmt.Errorf("%w: unexpected provider status %d", ErrMalformedCredential, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrProviderUnavailable, err)
	}

	var info userInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: decoding userinfo: %v", ErrMalformedCredential, err))
	}

	userID := info.ID
	if userID == "" {
		userID = info.Sub
	}
	if userID == "" {
		return "", backoff.Permanent(fmt.Errorf("%w: userinfo has no user id", ErrMalformedCredential))
	}
	return userID, nil
}
