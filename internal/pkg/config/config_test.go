package config

import (
	"context"
	"testing"

	"github.com/matryer/is"
)

func TestListenAddressAcceptsBarePort(t *testing.T) {
	is := is.New(t)

	is.Equal(listenAddress("8080"), ":8080")
	is.Equal(listenAddress(":8080"), ":8080")
	is.Equal(listenAddress("0.0.0.0:8080"), "0.0.0.0:8080")
}

func TestLoadSettingsNormalizesServicePort(t *testing.T) {
	is := is.New(t)

	t.Setenv("FROST_URL", "http://frost.local/v1.1")
	t.Setenv("FROST_USER", "writer")
	t.Setenv("FROST_PASSWORD", "hunter2")
	t.Setenv("SERVICE_PORT", "8080")

	s := LoadSettings(context.Background())
	is.Equal(s.ListenAddr, ":8080")
}
