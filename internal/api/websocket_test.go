package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fortune-cook1e/iot-smart-parking-system/internal/ingest"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/realtime"
	"github.com/fortune-cook1e/iot-smart-parking-system/internal/result"
)

func TestWebSocket_HandshakeRejected(t *testing.T) {
	e := newEnv(t)
	ts := e.liveServer(t)
	login := e.login(t, "mallory@example.com")

	revoked := e.login(t, "mallory@example.com")
	if err := e.auth.Logout(context.Background(), revoked.AccessToken, ""); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	tests := []struct {
		name  string
		token string
		code  result.Code
		setup func()
	}{
		{"no token", "", result.CodeUnauthorized, nil},
		{"garbage", "not-a-jwt", result.CodeTokenInvalid, nil},
		{"revoked", revoked.AccessToken, result.CodeTokenRevoked, nil},
		{"expired", login.AccessToken, result.CodeTokenExpired, func() { e.clock.Advance(2 * time.Hour) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			conn, resp, err := dialWS(t, ts, tt.token)
			if err == nil {
				t.Fatal("handshake should fail")
			}
			if conn != nil {
				t.Fatal("no connection expected")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("response = %+v, want 401", resp)
			}
			defer resp.Body.Close() //nolint:errcheck // Test
			var env envelope
			if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if env.OK || env.Code != string(tt.code) {
				t.Errorf("envelope = %+v, want code %s", env, tt.code)
			}
		})
	}

	if n := e.registry.SessionCount(); n != 0 {
		t.Errorf("SessionCount() = %d, want 0 after rejected handshakes", n)
	}
}

func TestWebSocket_TokenQueryParameter(t *testing.T) {
	e := newEnv(t)
	ts := e.liveServer(t)
	token := e.login(t, "niaj@example.com").AccessToken

	url := "ws" + ts.URL[len("http"):] + "/api/v1/ws?token=" + token
	conn, _, err := websocketDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial with query token: %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test

	waitFor(t, "session registration", func() bool { return e.registry.SessionCount() == 1 })
}

// TestWebSocket_SubscribeAndReceive walks the whole path: login, connect,
// subscribe to a space, post a sensor report, receive the event.
func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	e := newEnv(t)
	ts := e.liveServer(t)
	space := e.createSpace(t, "SENSOR-WS")
	token := e.login(t, "olivia@example.com").AccessToken

	conn, _, err := dialWS(t, ts, token)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, "session registration", func() bool { return e.registry.SessionCount() == 1 })

	sendFrame(t, conn, realtime.TypeSubscribe, "1", space.ID)
	resp := readFrame(t, conn)
	if resp.Type != realtime.TypeResponse || resp.ID != "1" {
		t.Fatalf("subscribe reply = %+v", resp)
	}
	var ack map[string][]string
	if err := json.Unmarshal(resp.Payload, &ack); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if len(ack["subscribed"]) != 1 || ack["subscribed"][0] != space.ID {
		t.Errorf("ack = %v", ack)
	}

	w, env := e.do(t, http.MethodPost, "/api/v1/webhook/sensor", "", map[string]any{
		"sensorId": "SENSOR-WS", "isOccupied": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("webhook = %d %+v", w.Code, env)
	}

	event := readFrame(t, conn)
	if event.Type != realtime.TypeEvent || event.EventType != realtime.EventParkingSpaceUpdated {
		t.Fatalf("event = %+v", event)
	}
	var update ingest.SpaceUpdate
	if err := json.Unmarshal(event.Payload, &update); err != nil {
		t.Fatalf("decoding update: %v", err)
	}
	if update.ID != space.ID || update.SensorID != "SENSOR-WS" || !update.IsOccupied {
		t.Errorf("update = %+v", update)
	}

	sendFrame(t, conn, realtime.TypeUnsubscribe, "2", space.ID)
	if resp := readFrame(t, conn); resp.Type != realtime.TypeResponse || resp.ID != "2" {
		t.Fatalf("unsubscribe reply = %+v", resp)
	}
	if n := len(e.registry.Members(space.ID)); n != 0 {
		t.Errorf("Members() after unsubscribe = %d, want 0", n)
	}
}

func TestWebSocket_PingAndBadFrames(t *testing.T) {
	e := newEnv(t)
	ts := e.liveServer(t)
	token := e.login(t, "peggy@example.com").AccessToken

	conn, _, err := dialWS(t, ts, token)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	sendFrame(t, conn, realtime.TypePing, "p1")
	if f := readFrame(t, conn); f.Type != realtime.TypePong || f.ID != "p1" {
		t.Errorf("ping reply = %+v", f)
	}

	sendFrame(t, conn, "dance", "x1")
	f := readFrame(t, conn)
	if f.Type != realtime.TypeError || f.ID != "x1" {
		t.Fatalf("unknown type reply = %+v", f)
	}
	var p realtime.ErrorPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	if p.Code != string(result.CodeBadRequest) {
		t.Errorf("error code = %q", p.Code)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, conn); f.Type != realtime.TypeError {
		t.Errorf("malformed reply = %+v", f)
	}

	sendFrame(t, conn, realtime.TypeSubscribe, "s1")
	if f := readFrame(t, conn); f.Type != realtime.TypeError || f.ID != "s1" {
		t.Errorf("subscribe without payload reply = %+v", f)
	}
}

func TestWebSocket_DisconnectCleansUp(t *testing.T) {
	e := newEnv(t)
	ts := e.liveServer(t)
	space := e.createSpace(t, "SENSOR-DC")
	token := e.login(t, "quinn@example.com").AccessToken

	conn, _, err := dialWS(t, ts, token)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	sendFrame(t, conn, realtime.TypeSubscribe, "1", space.ID)
	readFrame(t, conn)
	if n := e.registry.TopicCount(); n != 1 {
		t.Fatalf("TopicCount() = %d, want 1", n)
	}

	conn.Close() //nolint:errcheck // Test

	waitFor(t, "session removal", func() bool { return e.registry.SessionCount() == 0 })
	if n := e.registry.TopicCount(); n != 0 {
		t.Errorf("TopicCount() after disconnect = %d, want 0", n)
	}

	// Publishing to the emptied topic must not fail.
	if w, _ := e.do(t, http.MethodPost, "/api/v1/webhook/sensor", "", map[string]any{
		"sensorId": "SENSOR-DC", "isOccupied": false,
	}); w.Code != http.StatusOK {
		t.Errorf("webhook after disconnect = %d", w.Code)
	}
}

func TestWebSocket_AutoSubscribeFromDurableSubscription(t *testing.T) {
	e := newEnv(t)
	ts := e.liveServer(t)
	space := e.createSpace(t, "SENSOR-AUTO")
	login := e.login(t, "rupert@example.com")

	if w, env := e.do(t, http.MethodPost, "/api/v1/subscriptions", login.AccessToken,
		map[string]string{"parkingSpaceId": space.ID}); w.Code != http.StatusCreated {
		t.Fatalf("subscribe = %d %+v", w.Code, env)
	}

	conn, _, err := dialWS(t, ts, login.AccessToken)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, "auto subscription", func() bool { return len(e.registry.Members(space.ID)) == 1 })

	if w, _ := e.do(t, http.MethodPost, "/api/v1/webhook/sensor", "", map[string]any{
		"sensorId": "SENSOR-AUTO", "isOccupied": false,
	}); w.Code != http.StatusOK {
		t.Fatalf("webhook = %d", w.Code)
	}

	f := readFrame(t, conn)
	if f.Type != realtime.TypeEvent {
		t.Fatalf("frame = %+v, want event", f)
	}
}

func TestWebSocket_RestSubscriptionJoinsLiveSession(t *testing.T) {
	e := newEnv(t)
	ts := e.liveServer(t)
	space := e.createSpace(t, "SENSOR-LIVE")
	token := e.login(t, "sybil@example.com").AccessToken

	conn, _, err := dialWS(t, ts, token)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, "session registration", func() bool { return e.registry.SessionCount() == 1 })

	if w, _ := e.do(t, http.MethodPost, "/api/v1/subscriptions", token,
		map[string]string{"parkingSpaceId": space.ID}); w.Code != http.StatusCreated {
		t.Fatalf("subscribe = %d", w.Code)
	}
	if n := len(e.registry.Members(space.ID)); n != 1 {
		t.Fatalf("Members() = %d, want 1", n)
	}

	if w, _ := e.do(t, http.MethodPost, "/api/v1/webhook/sensor", "", map[string]any{
		"sensorId": "SENSOR-LIVE", "isOccupied": true,
	}); w.Code != http.StatusOK {
		t.Fatalf("webhook = %d", w.Code)
	}
	if f := readFrame(t, conn); f.Type != realtime.TypeEvent {
		t.Fatalf("frame = %+v, want event", f)
	}

	if w, _ := e.do(t, http.MethodDelete, "/api/v1/subscriptions/"+space.ID, token, nil); w.Code != http.StatusOK {
		t.Fatalf("unsubscribe = %d", w.Code)
	}
	if n := len(e.registry.Members(space.ID)); n != 0 {
		t.Errorf("Members() after REST unsubscribe = %d, want 0", n)
	}
}

func TestServerClose_ClosesSessions(t *testing.T) {
	e := newEnv(t)
	if err := e.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	token := e.login(t, "trent@example.com").AccessToken

	conn, _, err := websocketDialer.Dial("ws://"+e.srv.Addr()+"/api/v1/ws?token="+token, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test
	waitFor(t, "session registration", func() bool { return e.registry.SessionCount() == 1 })

	if err := e.srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := e.registry.SessionCount(); n != 0 {
		t.Errorf("SessionCount() after Close = %d, want 0", n)
	}

	//nolint:errcheck // Test
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("read after server close should fail")
	}
}

func TestWebSocket_DeletedUserSessionsClosed(t *testing.T) {
	e := newEnv(t)
	ts := e.liveServer(t)
	admin := e.login(t, "olga@example.com").AccessToken
	victim := e.login(t, "pavel@example.com")

	conn, _, err := dialWS(t, ts, victim.AccessToken)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, "session registration", func() bool { return e.registry.SessionCount() == 1 })

	if w, env := e.do(t, http.MethodDelete, "/api/v1/users/"+victim.User.ID, admin, nil); w.Code != http.StatusOK {
		t.Fatalf("delete = %d %+v", w.Code, env)
	}

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("server did not close the deleted user's socket")
		}
		break
	}
	if n := e.registry.SessionCount(); n != 0 {
		t.Errorf("SessionCount() after delete = %d, want 0", n)
	}
}
