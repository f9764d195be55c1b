package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "chekitimer/pkg/logx"
)

func get(t *testing.T, h http.Handler, target, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRoutesAndAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Token: "s3cret"}, logx.Nop())
	h := s.Handler()

	cases := []struct {
		target, auth string
		want         int
	}{
		{"/healthz", "", http.StatusOK},
		{"/metrics", "", http.StatusUnauthorized},
		{"/metrics", "Bearer wrong", http.StatusUnauthorized},
		{"/metrics", "Bearer s3cret", http.StatusOK},
		{"/metrics?token=s3cret", "", http.StatusOK},
		{"/debug/pprof/", "Bearer s3cret", http.StatusNotFound},
	}
	for _, c := range cases {
		if got := get(t, h, c.target, c.auth).Code; got != c.want {
			t.Fatalf("GET %s (%q) = %d, want %d", c.target, c.auth, got, c.want)
		}
	}
}

func TestPprofWhenEnabled(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Pprof: true}, logx.Nop())
	if got := get(t, s.Handler(), "/debug/pprof/", "").Code; got != http.StatusOK {
		t.Fatalf("pprof index = %d", got)
	}
}

func TestHealthProbe(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	s.SetHealth(func() error { return errors.New("ledger worker down") })
	rec := get(t, s.Handler(), "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != "ledger worker down" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestCheckBind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		addr string
		cfg  Config
		ok   bool
	}{
		{"127.0.0.1:9090", Config{}, true},
		{"localhost:9090", Config{}, true},
		{"[::1]:9090", Config{}, true},
		{":9090", Config{}, false},
		{"0.0.0.0:9090", Config{}, false},
		{"0.0.0.0:9090", Config{Token: "x"}, true},
		{"0.0.0.0:9090", Config{AllowInsecure: true}, true},
		{"garbage", Config{}, false},
	}
	for _, c := range cases {
		err := checkBind(c.addr, c.cfg)
		if (err == nil) != c.ok {
			t.Fatalf("checkBind(%q, %+v) = %v", c.addr, c.cfg, err)
		}
	}
}

func TestStartServeStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("server did not bind")
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	if s.Supervisor() != nil {
		t.Fatal("supervisor should be cleared after Stop")
	}

	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Supervisor() != nil {
		t.Fatal("disabled reconfigure must not start")
	}
}
