// Package app assembles the portalflow service: configuration, logging,
// the credential vault and stores, the browser controller, the workflow
// engine with its action dispatcher, the websocket hub, and the chi HTTP
// surface. It owns startup order and graceful shutdown.
package app
