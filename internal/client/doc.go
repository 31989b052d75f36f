// Package client is the end-user side of the realtime pipeline: it logs in
// against the REST API, keeps one websocket open while authenticated, and
// delivers parking space updates on a channel.
//
// A Manager owns the whole session. It replays durable subscriptions after
// every (re)connect, refreshes the access token before it expires or when
// the server reports token_expired, and retries a dropped connection a
// bounded number of times before giving up in StateFailed.
//
//	m := client.NewManager(client.Config{BaseURL: "http://localhost:8080"})
//	if err := m.Login(ctx, "user@parking.com", password); err != nil {
//		return err
//	}
//	for u := range m.Updates() {
//		fmt.Println(u.ID, u.IsOccupied)
//	}
package client
