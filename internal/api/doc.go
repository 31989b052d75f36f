// Package api implements the HTTP REST API and WebSocket endpoint of the
// smart parking server.
//
// This package provides:
//   - Auth endpoints: register, login, token refresh with rotation, logout
//   - Parking space CRUD with filtered, paginated listing
//   - Durable subscriptions, mirrored into live realtime sessions
//   - The sensor webhook feeding the ingest handler
//   - The realtime websocket at /api/v1/ws
//   - Middleware stack (request ID, logging, recovery, CORS, body limit,
//     bearer auth, per-IP rate limiting)
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Responses
//
// Every JSON body is a result.Result envelope:
//
//	{"ok":true,"data":{...},"message":"..."}
//	{"ok":false,"code":"token_expired","message":"token has expired"}
//
// The code decides the HTTP status: validation_error and bad_request 400,
// unauthorised and token_* 401, not_found 404, conflict 409, rate_limited
// 429, everything else 500 with a generic message.
//
// # Realtime
//
// The websocket handshake carries the access token in the Authorization
// header or the token query parameter. It is verified before the upgrade;
// a rejected token gets a 401 envelope and no session is created.
package api
