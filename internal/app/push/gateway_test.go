package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
)

func TestHTTPGatewayPush(t *testing.T) {
	var got []expo.PushMessage
	var auth, path string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("gateway received invalid JSON: %v", err)
		}
		_, _ = io.WriteString(w, `{"data":[{"status":"ok","id":"ticket-1"}]}`)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL+"/--/api/v2/push/send", "secret", time.Second)
	err := gw.Push(context.Background(), Notification{
		Token: "ExponentPushToken[abc]",
		Title: "Ada in #general",
		Body:  "hello",
		Image: "https://cdn.example/cat.png",
		Data:  map[string]string{"roomId": "42"},
	})
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if path != "/--/api/v2/push/send" {
		t.Errorf("path = %q", path)
	}
	if len(got) != 1 {
		t.Fatalf("expected one message, got %d", len(got))
	}
	msg := got[0]
	if len(msg.To) != 1 || msg.To[0] != "ExponentPushToken[abc]" || msg.Title != "Ada in #general" || msg.Data["roomId"] != "42" {
		t.Errorf("wire message = %+v", msg)
	}
	if msg.Data["image"] != "https://cdn.example/cat.png" {
		t.Errorf("image = %q", msg.Data["image"])
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		endpoint, host, apiURL string
	}{
		{"https://exp.host", "https://exp.host", ""},
		{"https://exp.host/", "https://exp.host", ""},
		{"https://exp.host/--/api/v2/push/send", "https://exp.host", "/--/api/v2"},
		{"http://push.internal:8080/api", "http://push.internal:8080", "/api"},
	}

	for _, tt := range tests {
		host, apiURL := splitEndpoint(tt.endpoint)
		if host != tt.host || apiURL != tt.apiURL {
			t.Errorf("splitEndpoint(%q) = %q, %q; want %q, %q", tt.endpoint, host, apiURL, tt.host, tt.apiURL)
		}
	}
}

func TestHTTPGatewayClassifiesFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantInvalid bool
		wantErr     bool
	}{
		{name: "ok", status: 200, body: `{"data":[{"status":"ok"}]}`},
		{name: "device not registered", status: 200, body: `{"data":[{"status":"error","message":"gone","details":{"error":"DeviceNotRegistered"}}]}`, wantInvalid: true, wantErr: true},
		{name: "rate limited ticket", status: 200, body: `{"data":[{"status":"error","details":{"error":"MessageRateExceeded"}}]}`, wantErr: true},
		{name: "endpoint not found", status: 404, body: `404 page not found`, wantErr: true},
		{name: "gone", status: 410, body: ``, wantErr: true},
		{name: "server error", status: 502, body: `bad gateway`, wantErr: true},
		{name: "request errors", status: 200, body: `{"errors":[{"code":"PUSH_TOO_MANY","message":"slow down"}]}`, wantErr: true},
		{name: "missing tickets", status: 200, body: `{"data":[]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			err := NewHTTPGateway(srv.URL, "", time.Second).Push(context.Background(), Notification{Token: "t"})

			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrInvalidToken) != tt.wantInvalid {
				t.Errorf("errors.Is(err, ErrInvalidToken) = %v, want %v", !tt.wantInvalid, tt.wantInvalid)
			}
		})
	}
}

func TestHTTPGatewayTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	err := NewHTTPGateway(srv.URL, "", 20*time.Millisecond).Push(context.Background(), Notification{Token: "t"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want a deadline error", err)
	}
}

func TestHTTPGatewayHonoursCallerContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewHTTPGateway(srv.URL, "", time.Minute).Push(ctx, Notification{Token: "t"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
