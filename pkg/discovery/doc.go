// Package discovery resolves the base URL of the storefront backend.
//
// Two resolvers are provided:
//   - StaticResolver returns a configured URL unchanged.
//   - ConsulResolver asks a Consul agent for healthy instances of the
//     backend service and builds the URL from the chosen instance.
//
// ConsulResolver caches the last resolved endpoint. When Consul is
// unreachable it keeps serving the cached endpoint and logs a warning,
// so a short Consul outage does not take the client down.
//
// # Usage Example
//
//	resolver, err := discovery.NewConsulResolver(discovery.ConsulOptions{
//	    Address:     "127.0.0.1:8500",
//	    ServiceName: "storefront-api",
//	    PathPrefix:  "/api",
//	})
//	if err != nil {
//	    return err
//	}
//	baseURL, err := resolver.Resolve(ctx)
package discovery
