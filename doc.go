// Package shopauth provides the token lifecycle and authenticated request layer for
// a storefront client that talks to a remote REST backend.
//
// The library is split into three cooperating layers, leaves first:
//
// Credential Store: key/value persistence over one or more Backends in priority order.
// The first backend is durable and authoritative, the last one is session scoped.
// Values found only in a lower-priority backend are promoted back into the
// higher-priority ones on read.
//
// Token Manager: acquires and caches a client-credentials bearer token. Concurrent
// callers share a single in-flight exchange.
//
// Request Gateway: injects the best available bearer (user token, then client token)
// into every outbound call and applies a tolerant policy to 401/403 responses so that
// races right after application start do not log the user out.
//
// A Session orchestrator sequences login, registration, OTP verification and logout on
// top of the gateway.
//
// # Basic Usage
//
//	import (
//	    "github.com/panyam/shopauth/client"
//	    "github.com/panyam/shopauth/client/stores/fs"
//	    "github.com/panyam/shopauth/client/stores/memory"
//	)
//
//	files, _ := fs.NewFSStore("", "shop")
//	durable, _ := files.ForServer("https://api.example.com")
//	store := client.NewCredentialStore(durable, memory.NewBackend())
//
//	c := client.New("https://api.example.com", store,
//	    client.WithClientCredentials("storefront", "secret"))
//	c.Session.Restore(ctx)
//
//	res := c.Session.Login(ctx, "jane@example.com", "hunter22")
//	if !res.Success {
//	    log.Println(res.Message)
//	}
//	res = c.Gateway.Get(ctx, "/cart")
//
// # Results
//
// Every API-facing call returns a normalized *Result rather than an error. Failures
// carry a *Error whose Kind tells the caller how to present it. Error values work with
// errors.Is against the sentinel errors in this package (ErrAuthExpired and friends).
//
// # Storage Backends
//
// Backends live under client/stores: memory (session scope), fs (JSON file), bbolt,
// redis, gorm and gae (Cloud Datastore). Storage failures are never fatal: they are
// logged and the client continues without persistence.
package shopauth
