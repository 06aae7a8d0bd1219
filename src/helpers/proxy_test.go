package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProxyManagerRotation(t *testing.T) {
	pm := NewProxyManager([]string{"10.0.0.1:8080", "", "socks5://10.0.0.2:1080"})
	assert.True(t, pm.HasProxies())

	p, err := pm.GetCurrentProxy()
	assert.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8080", p)

	pm.RotateProxy()
	p, _ = pm.GetCurrentProxy()
	assert.Equal(t, "socks5://10.0.0.2:1080", p)

	pm.RotateProxy()
	p, _ = pm.GetCurrentProxy()
	assert.Equal(t, "http://10.0.0.1:8080", p)
}

func TestProxyManagerUserAgent(t *testing.T) {
	assert.Equal(t, defaultUserAgent, NewProxyManager(nil).GetUserAgent())
	assert.Equal(t, "agent/1", NewProxyManager(nil, "agent/1").GetUserAgent())
	assert.False(t, NewProxyManager(nil).HasProxies())
}
