package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dispatchly/dispatchly-backend/pkg/config"
)

func TestNewServerAppliesTimeouts(t *testing.T) {
	t.Setenv("PORT", "")
	cfg := &config.Config{App: config.AppConfig{
		Port:         "8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}}

	srv := NewServer(cfg, http.NotFoundHandler())
	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, 5*time.Second, srv.ReadTimeout)
	assert.Equal(t, 10*time.Second, srv.WriteTimeout)
	assert.Equal(t, 30*time.Second, srv.IdleTimeout)
}

func TestListenAddrPrefersPlatformPort(t *testing.T) {
	t.Setenv("PORT", "5000")
	cfg := &config.Config{App: config.AppConfig{Port: "8080"}}
	assert.Equal(t, ":5000", ListenAddr(cfg))
}
