package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drbgd/internal/drbg"
)

func TestLabelsString(t *testing.T) {
	assert.Equal(t, "", Labels{}.String())
	assert.Equal(t, `{a="1",b="x\"y"}`, Labels{"b": `x"y`, "a": "1"}.String())
}

func TestRegistrySeries(t *testing.T) {
	r := NewRegistry("test")

	a := r.Counter("hits_total", "Hits.", Labels{"k": "a"})
	b := r.Counter("hits_total", "Hits.", Labels{"k": "b"})
	assert.NotSame(t, a, b)
	assert.Same(t, a, r.Counter("hits_total", "Hits.", Labels{"k": "a"}))

	a.Inc()
	b.Add(5)
	r.Gauge("level", "Level.", nil).Set(-3)

	snap := r.Snapshot()
	assert.Equal(t, uint64(1), snap[`test_hits_total{k="a"}`])
	assert.Equal(t, uint64(5), snap[`test_hits_total{k="b"}`])
	assert.Equal(t, int64(-3), snap["test_level"])

	r.Reset()
	assert.Equal(t, uint64(0), a.Value())
}

func TestHistogram(t *testing.T) {
	r := NewRegistry("")
	h := r.Histogram("size", "Sizes.", nil, []float64{10, 1, 100})
	for _, v := range []float64{0.5, 1, 5, 50, 500} {
		h.Observe(v)
	}
	assert.Equal(t, uint64(5), h.Count())
	assert.InDelta(t, 556.5, h.Sum(), 1e-9)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `size_bucket{le="1"} 2`)
	assert.Contains(t, out, `size_bucket{le="10"} 3`)
	assert.Contains(t, out, `size_bucket{le="100"} 4`)
	assert.Contains(t, out, `size_bucket{le="+Inf"} 5`)
	assert.Contains(t, out, "size_count 5")
}

func TestWritePrometheusHeadersOncePerFamily(t *testing.T) {
	r := NewRegistry("drbgd")
	r.Counter("reseeds_total", "Reseeds.", Labels{"reason": "time"}).Inc()
	r.Counter("reseeds_total", "Reseeds.", Labels{"reason": "add"}).Inc()

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "# TYPE drbgd_reseeds_total counter"))
	assert.Less(t, strings.Index(out, `reason="add"`), strings.Index(out, `reason="time"`))
}

func TestWriteJSON(t *testing.T) {
	r := NewRegistry("x")
	r.Counter("c", "C.", nil).Add(7)

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))
	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, float64(7), got["x_c"])
}

func TestDRBGObserver(t *testing.T) {
	r := NewRegistry("drbgd")
	o := NewDRBGObserver(r)

	o.Observe(drbg.Event{Instance: "public", Kind: drbg.EventInstantiate})
	o.Observe(drbg.Event{Instance: "public", Kind: drbg.EventGenerate, Bytes: 32})
	o.Observe(drbg.Event{Instance: "public", Kind: drbg.EventGenerate, Bytes: 100})
	o.Observe(drbg.Event{Instance: "public", Kind: drbg.EventReseed, Reason: drbg.ReasonPropagation})

	inst := Labels{"instance": "public"}
	assert.Equal(t, uint64(2), r.Counter("generate_requests_total", "", inst).Value())
	assert.Equal(t, uint64(132), r.Counter("generated_bytes_total", "", inst).Value())
	assert.Equal(t, uint64(1), r.Counter("reseeds_total", "",
		Labels{"instance": "public", "reason": "propagation"}).Value())
	assert.Equal(t, int64(1), r.Gauge("ready", "", inst).Value())

	o.Observe(drbg.Event{Instance: "public", Kind: drbg.EventError, Err: &drbg.Error{
		Op: "generate", Instance: "public", Kind: drbg.ErrReseedRequired, Err: errors.New("offline"),
	}})
	assert.Equal(t, uint64(1), r.Counter("errors_total", "",
		Labels{"instance": "public", "kind": "reseed_required"}).Value())
	assert.Equal(t, int64(0), r.Gauge("ready", "", inst).Value())
}

func TestDRBGObserverWired(t *testing.T) {
	r := NewRegistry("drbgd")
	cfg := drbg.DefaultHierarchyConfig()
	cfg.Observer = NewDRBGObserver(r)
	h, err := drbg.NewHierarchy(cfg)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Bytes(make([]byte, 64)))
	assert.Equal(t, uint64(1), r.Counter("instantiations_total", "", Labels{"instance": "master"}).Value())
	assert.Equal(t, uint64(64), r.Counter("generated_bytes_total", "", Labels{"instance": "public"}).Value())
}
