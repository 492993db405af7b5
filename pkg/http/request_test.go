package http_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	pkghttp "github.com/crewshift/pinlock/pkg/http"
)

func TestExtractClientIP_RemoteAddrFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.9:51100"

	ip := pkghttp.ExtractClientIP(req, nil)
	assert.Equal(t, "203.0.113.9", ip)
}

func TestExtractClientIP_IgnoresHeadersFromUntrustedSource(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.9:51100"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	req.Header.Set("X-Real-IP", "198.51.100.8")

	config := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}
	ip := pkghttp.ExtractClientIP(req, config)
	assert.Equal(t, "203.0.113.9", ip)
}

func TestExtractClientIP_TrustsForwardedForFromProxy(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:443"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.1.2.3")

	config := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}
	ip := pkghttp.ExtractClientIP(req, config)
	assert.Equal(t, "198.51.100.7", ip)
}

func TestExtractClientIP_FallsBackToRealIPHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:443"
	req.Header.Set("X-Forwarded-For", "not-an-ip")
	req.Header.Set("X-Real-IP", "198.51.100.8")

	config := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}
	ip := pkghttp.ExtractClientIP(req, config)
	assert.Equal(t, "198.51.100.8", ip)
}

func TestExtractClientIP_SkipsInvalidCIDR(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:443"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")

	config := &pkghttp.IPConfig{TrustedProxies: []string{"bogus", "10.0.0.0/8"}}
	ip := pkghttp.ExtractClientIP(req, config)
	assert.Equal(t, "198.51.100.7", ip)
}
