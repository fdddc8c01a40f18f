package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeShutdownIsNotReported(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0"}
	require.NoError(t, srv.Shutdown(context.Background()))

	errc := make(chan error) // nobody is receiving any more
	done := make(chan struct{})
	go func() {
		serve(srv, errc)
		close(done)
	}()

	select {
	case <-done:
	case err := <-errc:
		t.Fatalf("shutdown reported as failure: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after shutdown")
	}
}

func TestServeReportsListenFailure(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1"}
	errc := make(chan error, 1)
	serve(srv, errc)

	select {
	case err := <-errc:
		assert.Error(t, err)
	default:
		t.Fatal("listen failure was not reported")
	}
}
