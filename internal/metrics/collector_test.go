package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/namedfs/namedfs/internal/config"
	"github.com/namedfs/namedfs/pkg/types"
)

var _ types.MetricsRecorder = (*Collector)(nil)

func enabledConfig() config.MetricsConfig {
	return config.MetricsConfig{Enabled: true, Port: 0, Path: "/metrics", Namespace: "namedfs"}
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("enabled", func(t *testing.T) {
		c, err := NewCollector(enabledConfig(), nil)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if c.Registry() == nil {
			t.Fatal("enabled collector has no registry")
		}
	})

	t.Run("disabled records nothing", func(t *testing.T) {
		c, err := NewCollector(config.MetricsConfig{Enabled: false}, nil)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if c.Registry() != nil {
			t.Error("disabled collector should not have a registry")
		}
		// must not panic
		c.RecordOpen("std", true)
		c.RecordResolution("hit")
		c.RecordConnect("hdfs", time.Second, false)
		c.SetActiveConnections(3)
		c.RecordDiscovery(false)
	})
}

func TestRecorders(t *testing.T) {
	t.Parallel()
	c, err := NewCollector(enabledConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	c.RecordOpen("std", true)
	c.RecordOpen("std", true)
	c.RecordOpen("native", false)
	c.RecordResolution("miss")
	c.RecordConnect("hdfs", 20*time.Millisecond, true)
	c.SetActiveConnections(2)
	c.RecordDiscovery(false)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"std opens", testutil.ToFloat64(c.opens.WithLabelValues("std", "success")), 2},
		{"native failures", testutil.ToFloat64(c.opens.WithLabelValues("native", "error")), 1},
		{"misses", testutil.ToFloat64(c.resolutions.WithLabelValues("miss")), 1},
		{"connects", testutil.ToFloat64(c.connects.WithLabelValues("hdfs", "success")), 1},
		{"active", testutil.ToFloat64(c.activeConns), 2},
		{"discovery failures", testutil.ToFloat64(c.discoveries.WithLabelValues("error")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()
	c, err := NewCollector(enabledConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	c.RecordOpen("std", true)
	c.SetStatsSource(func() any { return map[string]int{"connections": 4} })

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/metrics")
	if code != http.StatusOK {
		t.Fatalf("/metrics status = %d", code)
	}
	if !strings.Contains(body, `namedfs_opens_total{scheme="std",status="success"} 1`) {
		t.Errorf("/metrics missing opens counter:\n%s", body)
	}

	code, body = get("/health")
	if code != http.StatusOK || !strings.Contains(body, `"healthy"`) {
		t.Errorf("/health = %d %s", code, body)
	}

	code, body = get("/debug/connections")
	if code != http.StatusOK {
		t.Fatalf("/debug/connections status = %d", code)
	}
	var stats map[string]int
	if err := json.Unmarshal([]byte(body), &stats); err != nil || stats["connections"] != 4 {
		t.Errorf("/debug/connections = %s (%v)", body, err)
	}
}
