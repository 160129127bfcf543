package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ipv4", "192.168.1.47", "192.168.1.0"},
		{"ipv4 already masked", "10.0.0.0", "10.0.0.0"},
		{"ipv4 mapped ipv6", "::ffff:172.16.50.255", "172.16.50.0"},
		{"ipv6", "2001:db8:85a3::8a2e:370:7334", "2001:db8:85a3::"},
		{"ipv6 loopback", "::1", "::"},
		{"ipv6 zone", "fe80::1%eth0", "fe80::"},
		{"empty", "", "unknown"},
		{"unknown", "unknown", "unknown"},
		{"garbage", "not-an-ip", "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AnonymizeIP(tt.input))
		})
	}
}

func TestAnonymizeIP_SameNetworkSameOutput(t *testing.T) {
	assert.Equal(t, AnonymizeIP("203.0.113.7"), AnonymizeIP("203.0.113.200"))
	assert.NotEqual(t, AnonymizeIP("203.0.113.7"), AnonymizeIP("203.0.114.7"))
}
