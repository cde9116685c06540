package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/lassejlv/fedis/internal/command"
	"github.com/lassejlv/fedis/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCollectorEmitsKeyCountAndCommandStats(t *testing.T) {
	st := store.New(2, nil)
	st.Set("a", store.StringValue([]byte("1")), 0)
	st.Set("b", store.StringValue([]byte("2")), 0)

	stats := command.NewStatRegistry()
	stats.Record("GET", 5*time.Microsecond)
	stats.Record("GET", 3*time.Microsecond)

	c := NewCollector(Sources{Stats: stats, Store: st})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawKeys, sawCalls bool
	for _, fam := range families {
		switch fam.GetName() {
		case "fedis_keys":
			sawKeys = true
			require.Equal(t, float64(2), fam.Metric[0].GetGauge().GetValue())
		case "fedis_command_calls_total":
			sawCalls = true
			require.Equal(t, float64(2), fam.Metric[0].GetGauge().GetValue()+fam.Metric[0].GetCounter().GetValue())
			require.Equal(t, "GET", labelValue(fam.Metric[0], "command"))
		}
	}
	require.True(t, sawKeys)
	require.True(t, sawCalls)
}

func TestCollectorOmitsOptionalSeriesWhenNil(t *testing.T) {
	st := store.New(1, nil)
	stats := command.NewStatRegistry()
	c := NewCollector(Sources{Stats: stats, Store: st})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, fam := range families {
		require.NotEqual(t, "fedis_aof_queue_depth", fam.GetName())
		require.NotEqual(t, "fedis_connected_clients", fam.GetName())
	}
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestNewServerServesMetricsPath(t *testing.T) {
	st := store.New(1, nil)
	st.Set("k", store.StringValue([]byte("v")), 0)
	stats := command.NewStatRegistry()
	c := NewCollector(Sources{Stats: stats, Store: st})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	srv := NewServer(addr, c)
	go srv.ListenAndServe()
	defer srv.Shutdown(context.Background())

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), "fedis_keys")
	}, 2*time.Second, 10*time.Millisecond)
}
