package health

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namedfs/namedfs/internal/config"
	"github.com/namedfs/namedfs/pkg/types"
)

func listen(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, n
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestCheckReachable(t *testing.T) {
	t.Parallel()
	host, port := listen(t)

	p := NewChecker(config.HealthChecksConfig{Timeout: 2 * time.Second})
	res := p.Check(context.Background(), types.NamedCluster{Name: "dev", Host: host, Port: port})

	assert.Equal(t, SeverityInfo, res.Severity)
	assert.True(t, res.OK())
	assert.Equal(t, "dev", res.Cluster)
	assert.Equal(t, net.JoinHostPort(host, strconv.Itoa(port)), res.Address)
	assert.Empty(t, res.Error)
}

func TestCheckUnreachable(t *testing.T) {
	t.Parallel()
	port := closedPort(t)

	p := NewChecker(config.HealthChecksConfig{Timeout: 2 * time.Second})
	res := p.Check(context.Background(), types.NamedCluster{Host: "127.0.0.1", Port: port})

	assert.Equal(t, SeverityError, res.Severity)
	assert.False(t, res.OK())
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(port), res.Cluster)
}

func TestCheckNativeClientSkipsDial(t *testing.T) {
	t.Parallel()

	dialed := false
	p := NewChecker(config.HealthChecksConfig{}, WithDialer(func(context.Context, string, string) (net.Conn, error) {
		dialed = true
		return nil, errors.New("should not dial")
	}))

	res := p.Check(context.Background(), types.NamedCluster{
		Name:    "mapr",
		Host:    "mapr-cluster",
		Port:    7222,
		Variant: types.VariantNativeClient,
	})

	assert.False(t, dialed)
	assert.Equal(t, SeverityInfo, res.Severity)
	assert.Contains(t, res.Message, "not applicable")
}

func TestCheckTimeout(t *testing.T) {
	t.Parallel()

	p := NewChecker(config.HealthChecksConfig{Timeout: 20 * time.Millisecond}, WithDialer(
		func(ctx context.Context, _, _ string) (net.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	res := p.Check(context.Background(), types.NamedCluster{Host: "nn1", Port: 8020})
	assert.Equal(t, SeverityError, res.Severity)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
}

func TestCheckExpandsEnvironment(t *testing.T) {
	host, port := listen(t)
	t.Setenv("NAMEDFS_TEST_NN_HOST", host)
	t.Setenv("NAMEDFS_TEST_NN_PORT", strconv.Itoa(port))

	p := NewChecker(config.HealthChecksConfig{Timeout: 2 * time.Second})
	res := p.Check(context.Background(), types.NamedCluster{
		Name:       "shared",
		Host:       "${NAMEDFS_TEST_NN_HOST}",
		Properties: map[string]string{"port": "${NAMEDFS_TEST_NN_PORT}"},
	})

	assert.Equal(t, SeverityInfo, res.Severity, res.Error)
}

func TestCheckMissingAddress(t *testing.T) {
	t.Parallel()

	p := NewChecker(config.HealthChecksConfig{})
	res := p.Check(context.Background(), types.NamedCluster{Name: "empty"})
	assert.Equal(t, SeverityError, res.Severity)
}

func TestCheckAllKeepsOrder(t *testing.T) {
	t.Parallel()
	host, port := listen(t)
	down := closedPort(t)

	clusters := []types.NamedCluster{
		{Name: "up", Host: host, Port: port},
		{Name: "down", Host: "127.0.0.1", Port: down},
		{Name: "native", Host: "m", Port: 1, Variant: types.VariantNativeClient},
	}

	p := NewChecker(config.HealthChecksConfig{Timeout: 2 * time.Second}, WithConcurrency(2))
	results := p.CheckAll(context.Background(), clusters)

	require.Len(t, results, 3)
	assert.Equal(t, "up", results[0].Cluster)
	assert.True(t, results[0].OK())
	assert.Equal(t, "down", results[1].Cluster)
	assert.False(t, results[1].OK())
	assert.Equal(t, "native", results[2].Cluster)
	assert.True(t, results[2].OK())
}
