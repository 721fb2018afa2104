// internal/antidetect/solver_test.go
package antidetect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSolverExchanger_Exchange(t *testing.T) {
	var got solverRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","message":"","solution":{"url":"https://shop.example/","status":200,
			"userAgent":"ua-1","cookies":[{"name":"cf_clearance","value":"tok","domain":".shop.example"},{"name":"","value":"x"}]}}`))
	}))
	defer srv.Close()

	ex := NewSolverExchanger(SolverConfig{URL: srv.URL, MaxTimeout: 5 * time.Second, Proxy: "http://proxy:24261", ProxyUsername: "user", ProxyPassword: "pa:ss"}, srv.Client(), nil)
	cookies, err := ex.Exchange(context.Background(), "https://shop.example/", "ua-1")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if len(cookies) != 1 || cookies["cf_clearance"] != "tok" {
		t.Errorf("Unexpected cookies: %v", cookies)
	}
	if got.Cmd != "request.get" || got.URL != "https://shop.example/" || got.MaxTimeout != 5000 || got.UserAgent != "ua-1" {
		t.Errorf("Unexpected solver request: %+v", got)
	}
	if got.Proxy == nil || got.Proxy.URL != "http://proxy:24261" {
		t.Fatalf("Expected proxy in solver request, got %+v", got.Proxy)
	}
	if got.Proxy.Username != "user" || got.Proxy.Password != "pa:ss" {
		t.Errorf("Expected proxy credentials in solver request, got %+v", got.Proxy)
	}
}

func TestSolverExchanger_NoProxy(t *testing.T) {
	var raw map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"status":"ok","solution":{"cookies":[]}}`))
	}))
	defer srv.Close()

	ex := NewSolverExchanger(SolverConfig{URL: srv.URL, ProxyUsername: "user"}, srv.Client(), nil)
	if _, err := ex.Exchange(context.Background(), "https://shop.example/", ""); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if _, ok := raw["proxy"]; ok {
		t.Errorf("Expected no proxy object without a proxy URL, got %v", raw["proxy"])
	}
}

func TestSolverExchanger_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"solver error", http.StatusInternalServerError, `{"status":"error","message":"timeout"}`},
		{"not ok", http.StatusOK, `{"status":"warning","message":"challenge not solved"}`},
		{"garbage", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ex := NewSolverExchanger(SolverConfig{URL: srv.URL + "/v1/"}, srv.Client(), nil)
			if _, err := ex.Exchange(context.Background(), "https://shop.example/", ""); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
