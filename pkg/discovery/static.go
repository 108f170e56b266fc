package discovery

import "context"

// StaticResolver always returns the same URL
type StaticResolver struct {
	url string
}

// NewStaticResolver creates a resolver for a fixed base URL
func NewStaticResolver(baseURL string) *StaticResolver {
	return &StaticResolver{url: baseURL}
}

// Resolve returns the configured URL
func (s *StaticResolver) Resolve(ctx context.Context) (string, error) {
	if s.url == "" {
		return "", ErrServiceNotFound
	}
	return s.url, nil
}
