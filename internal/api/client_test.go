package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tspv.relay/internal/db"
	"github.com/banshee-data/tspv.relay/internal/processor"
)

func TestClient_AgainstServer(t *testing.T) {
	ctrl := &fakeController{snap: processor.Snapshot{LastProcessedID: 12, HistoryWindow: 4}}
	store := &fakeSamples{summary: []db.StatusSummary{{Status1: 3, Status2: 4, Count: 1}}}
	ts := httptest.NewServer(NewServer(ctrl, store).ServeMux())
	defer ts.Close()

	c := NewClient(ts.URL+"/", ts.Client())
	ctx := context.Background()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(12), st.LastProcessedID)
	assert.True(t, st.SamplesStored)

	st, err = c.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), st.LastProcessedID)
	assert.Equal(t, 1, ctrl.resets)

	summary, err := c.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.summary, summary)
}

func TestClient_Samples(t *testing.T) {
	id := uint8(5)
	store := &fakeSamples{samples: []db.StoredSample{{ID: "s1", PacketID: &id, Status1: 2, PresentValue: 1.25}}}
	ts := httptest.NewServer(NewServer(&fakeController{}, store).ServeMux())
	defer ts.Close()

	c := NewClient(ts.URL, ts.Client())
	got, err := c.Samples(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
	assert.Equal(t, uint8(5), *got[0].PacketID)
	assert.Equal(t, 7, store.limit)

	_, err = NewClient(ts.URL, ts.Client()).Samples(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 100, store.limit)
}

func TestClient_ErrorBody(t *testing.T) {
	ts := httptest.NewServer(NewServer(&fakeController{}, nil).ServeMux())
	defer ts.Close()

	_, err := NewClient(ts.URL, nil).Summary(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "no sample store configured")
}

type failingClient struct{ err error }

func (f failingClient) Do(*http.Request) (*http.Response, error) { return nil, f.err }

func TestClient_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := NewClient("http://relay.invalid", failingClient{boom}).Status(context.Background())
	assert.ErrorIs(t, err, boom)
}
