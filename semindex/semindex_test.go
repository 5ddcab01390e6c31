package semindex

import (
	"context"
	"errors"
	"testing"

	"interject"
)

const (
	server  = interject.Snowflake(1)
	channel = interject.Snowflake(42)
)

// axisVec returns a unit vector along dimension i, so inner-product search
// has an unambiguous nearest neighbour.
func axisVec(i int) []float32 {
	v := make([]float32, Dims)
	v[i] = 1
	return v
}

// fixedHydrator serves a canned embedding set and counts loads.
type fixedHydrator struct {
	stored []interject.StoredEmbedding
	loads  int
	err    error
}

func (h *fixedHydrator) load(context.Context, interject.Snowflake, interject.Snowflake) ([]interject.StoredEmbedding, error) {
	h.loads++
	return h.stored, h.err
}

func TestSearchHydratesOnce(t *testing.T) {
	h := &fixedHydrator{stored: []interject.StoredEmbedding{
		{ID: 100, Vector: axisVec(0)},
		{ID: 101, Vector: axisVec(1)},
		{ID: 102, Vector: axisVec(2)},
	}}
	m := New(h.load)
	defer m.Close()

	ids, err := m.Search(context.Background(), server, channel, axisVec(1), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 101 {
		t.Errorf("ids = %v, want [101]", ids)
	}

	if _, err := m.Search(context.Background(), server, channel, axisVec(2), 1); err != nil {
		t.Fatal(err)
	}
	if h.loads != 1 {
		t.Errorf("hydrated %d times, want 1", h.loads)
	}
}

func TestSearchEmptyChannel(t *testing.T) {
	h := &fixedHydrator{}
	m := New(h.load)
	defer m.Close()

	ids, err := m.Search(context.Background(), server, channel, axisVec(0), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
}

func TestAddBeforeHydrationIsDropped(t *testing.T) {
	h := &fixedHydrator{stored: []interject.StoredEmbedding{{ID: 100, Vector: axisVec(0)}}}
	m := New(h.load)
	defer m.Close()

	// Dropped: hydration will read the store, which already has everything.
	if err := m.Add(server, channel, 999, axisVec(5)); err != nil {
		t.Fatal(err)
	}

	ids, err := m.Search(context.Background(), server, channel, axisVec(5), 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		if id == 999 {
			t.Error("pre-hydration add leaked into the index")
		}
	}
}

func TestAddAfterHydration(t *testing.T) {
	h := &fixedHydrator{stored: []interject.StoredEmbedding{{ID: 100, Vector: axisVec(0)}}}
	m := New(h.load)
	defer m.Close()

	if _, err := m.Search(context.Background(), server, channel, axisVec(0), 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(server, channel, 200, axisVec(3)); err != nil {
		t.Fatal(err)
	}

	ids, err := m.Search(context.Background(), server, channel, axisVec(3), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 200 {
		t.Errorf("ids = %v, want [200]", ids)
	}
}

func TestAddOfHydratedIDIsDropped(t *testing.T) {
	h := &fixedHydrator{stored: []interject.StoredEmbedding{
		{ID: 100, Vector: axisVec(0)},
	}}
	m := New(h.load)
	defer m.Close()

	// Hydration loaded id 100 from the store; the archiver handing the
	// same vector over afterwards must not create a second ordinal.
	if _, err := m.Search(context.Background(), server, channel, axisVec(0), 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(server, channel, 100, axisVec(0)); err != nil {
		t.Fatal(err)
	}

	ids, err := m.Search(context.Background(), server, channel, axisVec(0), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 100 {
		t.Errorf("ids = %v, want exactly one hit for id 100", ids)
	}
}

func TestDimsRejected(t *testing.T) {
	h := &fixedHydrator{}
	m := New(h.load)
	defer m.Close()

	var dimsErr *interject.ErrDims
	if err := m.Add(server, channel, 1, make([]float32, 3)); !errors.As(err, &dimsErr) {
		t.Errorf("Add error = %v, want ErrDims", err)
	}
	if _, err := m.Search(context.Background(), server, channel, make([]float32, 3), 1); !errors.As(err, &dimsErr) {
		t.Errorf("Search error = %v, want ErrDims", err)
	}
}

func TestHydrationFailurePropagates(t *testing.T) {
	h := &fixedHydrator{err: errors.New("disk gone")}
	m := New(h.load)
	defer m.Close()

	if _, err := m.Search(context.Background(), server, channel, axisVec(0), 1); err == nil {
		t.Error("want hydration error")
	}

	// A later search retries hydration instead of serving a broken index.
	h.err = nil
	h.stored = []interject.StoredEmbedding{{ID: 7, Vector: axisVec(0)}}
	ids, err := m.Search(context.Background(), server, channel, axisVec(0), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 7 {
		t.Errorf("ids = %v, want [7]", ids)
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	h := &fixedHydrator{stored: []interject.StoredEmbedding{{ID: 50, Vector: axisVec(0)}}}
	m := New(h.load)
	defer m.Close()

	other := interject.Snowflake(43)
	if _, err := m.Search(context.Background(), server, channel, axisVec(0), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Search(context.Background(), server, other, axisVec(0), 1); err != nil {
		t.Fatal(err)
	}
	if h.loads != 2 {
		t.Errorf("hydrated %d times for two channels, want 2", h.loads)
	}
}
