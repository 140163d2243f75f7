package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateCard_Events(t *testing.T) {
	card := NewRateCard(Rates{AvatarPerSecond: 0.0208, TranscribePerMinute: 0.006})

	avatar := card.AvatarEvent("u-1", 0, 30)
	assert.Equal(t, PathAvatar, avatar.Path)
	assert.InDelta(t, 0.624, avatar.Amount, 1e-9)

	tr := card.TranscribeEvent("u-1", 1, 90)
	assert.Equal(t, PathTranscribe, tr.Path)
	assert.InDelta(t, 0.009, tr.Amount, 1e-9)
	assert.Equal(t, 1, tr.SegmentIndex)

	assert.InDelta(t, 0.633, Total([]Event{avatar, tr}), 1e-9)
}

func TestRateCard_Set(t *testing.T) {
	card := NewRateCard(Rates{AvatarPerSecond: 1})
	card.Set(Rates{AvatarPerSecond: 2, TranscribePerMinute: 3})

	assert.Equal(t, Rates{AvatarPerSecond: 2, TranscribePerMinute: 3}, card.Rates())
	assert.InDelta(t, 20.0, card.AvatarEvent("u", 0, 10).Amount, 1e-9)
}

func TestHTTPSink_Charge(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewHTTPSink(server.URL, time.Second)
	err := sink.Charge(context.Background(), Event{OwnerID: "u-7", Amount: 1.25})
	require.NoError(t, err)
	assert.Equal(t, "u-7", got["ownerId"])
	assert.InDelta(t, 1.25, got["newCredit"], 1e-9)
}

func TestHTTPSink_ChargeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("db down"))
	}))
	defer server.Close()

	err := NewHTTPSink(server.URL, time.Second).Charge(context.Background(), Event{OwnerID: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.Charge(context.Background(), Event{OwnerID: "u", Amount: 1}))
}

type countingSink struct {
	calls int
	err   error
}

func (c *countingSink) Charge(context.Context, Event) error {
	c.calls++
	return c.err
}

func TestMultiSink(t *testing.T) {
	ok := &countingSink{}
	failing := &countingSink{err: assert.AnError}

	err := MultiSink{failing, ok}.Charge(context.Background(), Event{OwnerID: "u"})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, failing.calls)

	assert.NoError(t, MultiSink{ok}.Charge(context.Background(), Event{}))
}
