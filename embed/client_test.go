package embed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"interject"
)

func serveVectors(t *testing.T, perText func(i int) []float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/embed" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		vecs := make([][]float32, len(req.Texts))
		for i := range vecs {
			vecs[i] = perText(i)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": vecs})
	}))
}

func TestEmbedBatch(t *testing.T) {
	srv := serveVectors(t, func(i int) []float32 {
		v := make([]float32, Dims)
		v[0] = float32(i + 1)
		return v
	})
	defer srv.Close()

	c := New(srv.URL)
	vecs, err := c.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("vecs[0][0]=%v vecs[1][0]=%v", vecs[0][0], vecs[1][0])
	}
}

func TestEmbedBatchEmptyIsLocal(t *testing.T) {
	c := New("http://127.0.0.1:1") // never dialled
	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("vecs=%v err=%v", vecs, err)
	}
}

func TestEmbedBatchWrongDims(t *testing.T) {
	srv := serveVectors(t, func(int) []float32 { return make([]float32, 3) })
	defer srv.Close()

	_, err := New(srv.URL).EmbedBatch(context.Background(), []string{"x"})
	var dims *interject.ErrDims
	if !errors.As(err, &dims) {
		t.Fatalf("err = %v", err)
	}
	if dims.Want != Dims || dims.Got != 3 {
		t.Errorf("dims = %+v", dims)
	}
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": [][]float32{make([]float32, Dims)}})
	}))
	defer srv.Close()

	if _, err := New(srv.URL).EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("count mismatch accepted")
	}
}

func TestEmbedBatchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).EmbedBatch(context.Background(), []string{"x"})
	var httpErr *interject.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("err = %v", err)
	}
}

func TestEmbedSingle(t *testing.T) {
	srv := serveVectors(t, func(int) []float32 {
		v := make([]float32, Dims)
		v[0] = 7
		return v
	})
	defer srv.Close()

	vec, err := New(srv.URL).Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != Dims || vec[0] != 7 {
		t.Errorf("vec[0] = %v, len = %d", vec[0], len(vec))
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := Vector{0, 1, -1, 0.5, float32(math.Pi)}
	blob, err := in.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) != 4*len(in) {
		t.Fatalf("blob length = %d", len(blob))
	}

	var out Vector
	if err := out.UnmarshalBinary(blob); err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if math.Float32bits(in[i]) != math.Float32bits(out[i]) {
			t.Errorf("dim %d: %v != %v", i, in[i], out[i])
		}
	}
}

func TestVectorBadBlob(t *testing.T) {
	var v Vector
	if err := v.UnmarshalBinary([]byte{1, 2, 3}); err == nil {
		t.Error("truncated blob accepted")
	}
}
