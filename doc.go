// Package client is the GroupVAN V3 API client SDK. It maintains an
// authenticated session against the JWT-protected API: it logs in, decodes
// and tracks token claims, refreshes access tokens proactively (and exactly
// once under concurrency), persists tokens through pluggable storage
// backends, and threads the sticky gv-session-id returned by
// context-establishing endpoints into subsequent related requests.
//
// The entry point is AuthManager. Resource wrappers (CatalogService,
// VehicleService, VehicleStream) consume it through GetValidAccessToken and
// the shared SessionPropagator.
package client
