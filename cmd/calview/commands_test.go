package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWaitHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, waitHealthy(context.Background(), srv.URL, make(chan error)))
}

func TestWaitHealthyServerFailed(t *testing.T) {
	srvErr := make(chan error, 1)
	srvErr <- errors.New("address in use")

	err := waitHealthy(context.Background(), "http://127.0.0.1:1/health", srvErr)
	assert.ErrorContains(t, err, "address in use")
}

func TestRuntimeStopRunsInReverse(t *testing.T) {
	var order []int
	rt := &runtime{stopFns: []func(){
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
	}}
	rt.stop()
	assert.Equal(t, []int{2, 1}, order)
}
