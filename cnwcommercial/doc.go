// Package cnwcommercial lets an open-source CNW Commerce build talk to the paid
// commercial backends (plugin store, SaaS subscriptions, license validation,
// update checks) and lets a server verify those calls.
//
// Install with:
//
//	go get github.com/CloudNativeWorks/cnw-commercial-sdk/cnwcommercial
//
// It has two sides:
//
//   - Callers resolve an encrypted endpoint from the Registry and use a
//     service facade, which signs every outbound request.
//   - Servers wrap their commercial routes with Verifier.Middleware, which
//     re-derives the signature and rejects anything that does not match.
//
// # Quick Start
//
// Calling the plugin store:
//
//	reg := cnwcommercial.NewRegistry()
//	store := cnwcommercial.NewPluginStore(reg)
//	plugins := store.Browse(ctx, cnwcommercial.PluginQuery{Category: "payments"})
//
// Protecting a route:
//
//	v := cnwcommercial.NewVerifier(cnwcommercial.WithLimiter(limiter))
//	mux.Handle("/api/commercial/", v.Middleware(handler))
//
// # Limitations
//
// The shared secret and the endpoint ciphertexts ship inside the binary. They
// deter casual tampering with the embedded URLs and client identity; anyone
// with the binary can recover both. Real confidentiality needs a secret that
// is held by the server and never distributed.
package cnwcommercial
