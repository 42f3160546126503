package dns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	ips   []string
	err   error
	delay time.Duration
}

func (f fakeResolver) LookupHost(ctx context.Context, _ string) ([]string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.ips, f.err
}

var errBroken = errors.New("broken")

func TestLookupIPLiteral(t *testing.T) {
	ip, err := lookup(context.Background(), "127.0.0.1", fakeResolver{err: errBroken}, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)
}

func TestLookupPrefersIPv4(t *testing.T) {
	local := fakeResolver{ips: []string{"2001:db8::1", "192.0.2.7"}}

	ip, err := lookup(context.Background(), "calls.example.com", local, nil)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.7", ip)
}

func TestLookupFallsBackToPublic(t *testing.T) {
	public := []Resolver{
		fakeResolver{err: errBroken},
		fakeResolver{ips: []string{"198.51.100.1"}, delay: 20 * time.Millisecond},
		fakeResolver{ips: nil},
	}

	ip, err := lookup(context.Background(), "calls.example.com", fakeResolver{err: errBroken}, public)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", ip)
}

func TestLookupAllFail(t *testing.T) {
	public := []Resolver{fakeResolver{err: errBroken}, fakeResolver{}}

	_, err := lookup(context.Background(), "calls.example.com", fakeResolver{err: errBroken}, public)
	assert.ErrorContains(t, err, "all 2 resolvers failed")
}

func TestTrimBrackets(t *testing.T) {
	assert.Equal(t, "2620:fe::fe", trimBrackets("[2620:fe::fe]"))
	assert.Equal(t, "9.9.9.9", trimBrackets("9.9.9.9"))
}
