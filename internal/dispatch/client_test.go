package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestClient_Post(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{"transformed":true}`))
	}))
	defer server.Close()

	client := NewClient(Options{Target: "transformer", Timeout: time.Second}, nil)
	resp, err := client.Post(context.Background(), server.URL+"/", "/transform/zero", map[string]any{"eventType": "api.call"})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	if string(resp) != `{"transformed":true}` {
		t.Errorf("response = %s", resp)
	}
	if gotPath != "/transform/zero" {
		t.Errorf("path = %q, want /transform/zero", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotBody["eventType"] != "api.call" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestClient_Post_RawMessageSentVerbatim(t *testing.T) {
	var raw []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	client := NewClient(Options{}, nil)
	body := json.RawMessage(`{"n":12345678901234567890}`)
	if _, err := client.Post(context.Background(), server.URL, "/sink/loki", body); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if string(raw) != `{"n":12345678901234567890}` {
		t.Errorf("sent body = %s", raw)
	}
}

func TestClient_Post_StatusPolicy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer server.Close()

	tests := []struct {
		name     string
		policy   StatusPolicy
		wantErr  bool
		wantBody string
	}{
		{name: "forward returns body", policy: Forward, wantBody: `{"error":"upstream down"}`},
		{name: "fail returns dispatch error", policy: Fail, wantErr: true},
		{name: "default policy is fail", policy: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(Options{Target: "sink", Policy: tt.policy}, nil)
			resp, err := client.Post(context.Background(), server.URL, "/sink/loki", map[string]string{})

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Post() error = %v", err)
				}
				if string(resp) != tt.wantBody {
					t.Errorf("response = %s, want %s", resp, tt.wantBody)
				}
				return
			}

			var dispatchErr *DispatchError
			if !errors.As(err, &dispatchErr) {
				t.Fatalf("expected DispatchError, got %T: %v", err, err)
			}
			if dispatchErr.Status != http.StatusBadGateway {
				t.Errorf("Status = %d, want 502", dispatchErr.Status)
			}
			if !errors.Is(err, ErrUnexpectedStatus) {
				t.Errorf("expected ErrUnexpectedStatus in chain: %v", err)
			}
			if dispatchErr.URL != server.URL+"/sink/loki" {
				t.Errorf("URL = %q", dispatchErr.URL)
			}
		})
	}
}

func TestClient_Post_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Options{Timeout: 50 * time.Millisecond}, nil)
	_, err := client.Post(context.Background(), server.URL, "/transform/slow", map[string]string{})

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError on timeout, got %T: %v", err, err)
	}
	if dispatchErr.Status != 0 {
		t.Errorf("Status = %d, want 0 for transport failure", dispatchErr.Status)
	}
}

func TestClient_Post_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(Options{Timeout: time.Second}, nil)
	_, err := client.Post(context.Background(), url, "/sink/loki", map[string]string{})

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %T: %v", err, err)
	}
}

func TestClient_Post_SerializationError(t *testing.T) {
	client := NewClient(Options{}, nil)
	_, err := client.Post(context.Background(), "http://localhost:1", "/sink/x", math.Inf(1))

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %T: %v", err, err)
	}
	if client.Destinations() != 0 {
		t.Error("no client should be created when serialization fails")
	}
}

func TestClient_ReusesClientPerBaseURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer other.Close()

	client := NewClient(Options{}, nil)
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			base := server.URL
			if i%2 == 1 {
				base = other.URL
			}
			if _, err := client.Post(context.Background(), base, "/sink/loki", map[string]int{"i": i}); err != nil {
				t.Errorf("Post() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := client.Destinations(); got != 2 {
		t.Errorf("Destinations() = %d, want 2", got)
	}
	if client.httpClient(server.URL) != client.httpClient(server.URL) {
		t.Error("expected the same client for the same base URL")
	}
}

func TestParseStatusPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    StatusPolicy
		wantErr bool
	}{
		{"forward", Forward, false},
		{" FAIL ", Fail, false},
		{"retry", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatusPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStatusPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseStatusPolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
