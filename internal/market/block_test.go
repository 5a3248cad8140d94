package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBlockService_LatestBlock(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("User-Agent = %q, want %q", got, userAgent)
		}
		w.Write([]byte("00000000000000000001a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3\n"))
	}))
	defer srv.Close()

	svc := NewBlockService(WithBlockTipURL(srv.URL))

	block, err := svc.LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("LatestBlock: %v", err)
	}
	if block.Hash != "00000000000000000001a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3" {
		t.Errorf("unexpected hash %q", block.Hash)
	}
	if block.Timestamp.IsZero() {
		t.Error("expected a fetch timestamp")
	}
}

func TestBlockService_LatestBlock_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "upstream error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			svc := NewBlockService(WithBlockTipURL(srv.URL))

			_, err := svc.LatestBlock(context.Background())
			if !errors.Is(err, ErrUnavailable) {
				t.Errorf("LatestBlock error = %v, want ErrUnavailable", err)
			}
		})
	}
}
