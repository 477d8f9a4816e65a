package client

import "context"

// HeaderAPIVersion advertises the token scheme expected by the API.
const HeaderAPIVersion = "gv-ver"

const apiVersionValue = "GV-JWT-V1"

// resource is the shared base of the API wrappers. It decorates every call
// with a fresh bearer token, the scheme version header and, when present,
// the sticky session id.
type resource struct {
	client  HTTPClient
	manager *AuthManager
}

func (r resource) authOptions(ctx context.Context, extra ...RequestOption) ([]RequestOption, error) {
	token, err := r.manager.GetValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	opts := []RequestOption{
		WithHeader("Authorization", "Bearer "+token),
		WithHeader(HeaderAPIVersion, apiVersionValue),
	}
	if id := r.manager.SessionPropagator().Current(); id != "" {
		opts = append(opts, WithHeader(HeaderSessionID, id))
	}
	return append(opts, extra...), nil
}
