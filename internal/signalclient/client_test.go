package signalclient_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voxcall/signaling-relay/internal/metrics"
	"github.com/voxcall/signaling-relay/internal/rooms"
	"github.com/voxcall/signaling-relay/internal/signalclient"
	"github.com/voxcall/signaling-relay/internal/signaling"
)

func startRelay(t *testing.T) string {
	t.Helper()

	srv := signaling.NewServer(signaling.Config{
		Rooms:  rooms.NewStore(rooms.Config{}, metrics.New()),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(srv.Close)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCreateAndValidateRoom(t *testing.T) {
	url := startRelay(t)
	ctx := testCtx(t)

	c, err := signalclient.Dial(ctx, url, signalclient.Handlers{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	secret := "hunter2"
	roomID, err := c.CreateRoom(ctx, &secret)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if len(roomID) != 8 {
		t.Fatalf("unexpected room id %q", roomID)
	}

	status, err := c.ValidateRoom(ctx, roomID, nil)
	if err != nil {
		t.Fatalf("validate room: %v", err)
	}
	if !status.Exists || !status.PasswordRequired {
		t.Fatalf("unexpected status %+v", status)
	}

	ok, err := c.ValidatePassword(ctx, roomID, "hunter2")
	if err != nil {
		t.Fatalf("validate password: %v", err)
	}
	if !ok {
		t.Fatalf("correct password rejected")
	}

	ok, err = c.ValidatePassword(ctx, roomID, "wrong")
	if err != nil {
		t.Fatalf("validate wrong password: %v", err)
	}
	if ok {
		t.Fatalf("wrong password accepted")
	}
}

func TestValidateRoom_Absent(t *testing.T) {
	url := startRelay(t)
	ctx := testCtx(t)

	c, err := signalclient.Dial(ctx, url, signalclient.Handlers{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	status, err := c.ValidateRoom(ctx, "nonexist", nil)
	if err != nil {
		t.Fatalf("validate room: %v", err)
	}
	if status.Exists {
		t.Fatalf("absent room reported as existing")
	}
}

func TestJoinRoom_Errors(t *testing.T) {
	url := startRelay(t)
	ctx := testCtx(t)

	c, err := signalclient.Dial(ctx, url, signalclient.Handlers{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	err = c.JoinRoom(ctx, "nonexist", "alice")
	var serr *signalclient.ServerError
	if !errors.As(err, &serr) || serr.Code != "room_not_found" {
		t.Fatalf("expected room_not_found, got %v", err)
	}

	roomID, err := c.CreateRoom(ctx, nil)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := c.JoinRoom(ctx, roomID, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	err = c.JoinRoom(ctx, roomID, "alice")
	if !errors.As(err, &serr) || serr.Code != "already_in_room" {
		t.Fatalf("expected already_in_room, got %v", err)
	}
}

func TestNotificationsAndRelay(t *testing.T) {
	url := startRelay(t)
	ctx := testCtx(t)

	joined := make(chan string, 4)
	left := make(chan string, 4)
	relayed := make(chan signalclient.RelayMessage, 4)

	a, err := signalclient.Dial(ctx, url, signalclient.Handlers{
		OnNewUser:  func(u string) { joined <- u },
		OnUserLeft: func(u string) { left <- u },
	})
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()

	b, err := signalclient.Dial(ctx, url, signalclient.Handlers{
		OnRelay: func(m signalclient.RelayMessage) { relayed <- m },
	})
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	roomID, err := a.CreateRoom(ctx, nil)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := a.JoinRoom(ctx, roomID, "alice"); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := b.JoinRoom(ctx, roomID, "bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	select {
	case u := <-joined:
		if u != "bob" {
			t.Fatalf("new-user = %q", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for new-user")
	}

	if err := a.SendToUser("bob", "ping", map[string]any{"n": 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case m := <-relayed:
		if m.Type != "ping" || m.From != "alice" {
			t.Fatalf("unexpected relay %+v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for relay")
	}

	_ = a.Close()
	select {
	case u := <-left:
		t.Fatalf("user-left delivered to the leaver: %q", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUserLeftNotification(t *testing.T) {
	url := startRelay(t)
	ctx := testCtx(t)

	left := make(chan string, 1)

	a, err := signalclient.Dial(ctx, url, signalclient.Handlers{})
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	b, err := signalclient.Dial(ctx, url, signalclient.Handlers{
		OnUserLeft: func(u string) { left <- u },
	})
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	roomID, err := a.CreateRoom(ctx, nil)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := a.JoinRoom(ctx, roomID, "alice"); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := b.JoinRoom(ctx, roomID, "bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	_ = a.Close()

	select {
	case u := <-left:
		if u != "alice" {
			t.Fatalf("user-left = %q", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for user-left")
	}
}

func TestRequestInFlight(t *testing.T) {
	url := startRelay(t)
	ctx := testCtx(t)

	c, err := signalclient.Dial(ctx, url, signalclient.Handlers{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	// Two concurrent create-room requests cannot be correlated; exactly one
	// must be rejected up front.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.CreateRoom(ctx, nil)
			errs <- err
		}()
	}

	var rejected, succeeded int
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, signalclient.ErrRequestInFlight):
				rejected++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for create results")
		}
	}
	// Scheduling may serialize the two calls; at most one rejection, at
	// least one success.
	if succeeded < 1 {
		t.Fatalf("succeeded=%d rejected=%d", succeeded, rejected)
	}
}

func TestRequestContextCancelled(t *testing.T) {
	url := startRelay(t)

	c, err := signalclient.Dial(context.Background(), url, signalclient.Handlers{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.CreateRoom(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The slot is released; a fresh request succeeds.
	ctx2 := testCtx(t)
	if _, err := c.CreateRoom(ctx2, nil); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestClosedConnectionFailsPending(t *testing.T) {
	url := startRelay(t)
	ctx := testCtx(t)

	c, err := signalclient.Dial(ctx, url, signalclient.Handlers{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	_ = c.Close()

	if _, err := c.CreateRoom(ctx, nil); err == nil {
		t.Fatalf("expected error after close")
	}
}
