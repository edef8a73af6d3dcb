package operators

import (
	"context"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/birdayz/clickstream/kprocessor"
	"github.com/birdayz/clickstream/kstate"
)

func sessionIDs(t *testing.T, sessionLengthMs int64, key string, timestamps ...int64) []int64 {
	t.Helper()

	op, err := PageViewSessionizer(sessionLengthMs, nil)()
	assert.NoError(t, err)
	defer op.Close()

	ids := make([]int64, 0, len(timestamps))
	for i, ts := range timestamps {
		out, err := op.Process(context.Background(), pageView(key, ts, int64(i)))
		assert.NoError(t, err)
		assert.Equal(t, 1, len(out))
		ids = append(ids, out[0].Value.SessionID)
	}
	return ids
}

func pageView(ip string, ts, offset int64) kprocessor.Record[string, PageView] {
	return kprocessor.Record[string, PageView]{
		Key:       ip,
		Value:     PageView{IP: ip, Timestamp: ts, URL: "home.html"},
		Timestamp: ts,
		Metadata:  kprocessor.RecordMetadata{Topic: "clicks", Offset: offset},
	}
}

func TestSessionAssigner(t *testing.T) {
	a := SessionAssigner{SessionLengthMs: 5000}

	t.Run("first event opens session 0", func(t *testing.T) {
		state, id := a.Assign(123456, SessionState{SessionID: 42}, false)
		assert.Equal(t, int64(0), id)
		assert.Equal(t, SessionState{LastTimestamp: 123456, SessionID: 0}, state)
	})

	t.Run("gap equal to threshold keeps session", func(t *testing.T) {
		state, id := a.Assign(6000, SessionState{LastTimestamp: 1000, SessionID: 3}, true)
		assert.Equal(t, int64(3), id)
		assert.Equal(t, int64(6000), state.LastTimestamp)
	})

	t.Run("gap above threshold increments by one", func(t *testing.T) {
		state, id := a.Assign(6001, SessionState{LastTimestamp: 1000, SessionID: 3}, true)
		assert.Equal(t, int64(4), id)
		assert.Equal(t, SessionState{LastTimestamp: 6001, SessionID: 4}, state)
	})
}

func TestSessionizer(t *testing.T) {
	t.Run("inactivity gap splits sessions", func(t *testing.T) {
		ids := sessionIDs(t, 5000, "A", 1000, 3000, 9000, 9500)
		assert.Equal(t, []int64{0, 0, 1, 1}, ids)
	})

	t.Run("session ids never decrease", func(t *testing.T) {
		timestamps := []int64{1, 2, 10_000, 10_001, 40_000, 40_000, 40_500, 99_999}
		ids := sessionIDs(t, 5000, "A", timestamps...)
		for i := 1; i < len(ids); i++ {
			assert.True(t, ids[i] >= ids[i-1], "ids %v decrease at %d", ids, i)
			if timestamps[i]-timestamps[i-1] > 5000 {
				assert.Equal(t, ids[i-1]+1, ids[i])
			} else {
				assert.Equal(t, ids[i-1], ids[i])
			}
		}
	})

	t.Run("keys are tracked independently", func(t *testing.T) {
		op, err := PageViewSessionizer(5000, nil)()
		assert.NoError(t, err)

		ctx := context.Background()
		_, err = op.Process(ctx, pageView("A", 1000, 0))
		assert.NoError(t, err)
		_, err = op.Process(ctx, pageView("A", 20000, 1))
		assert.NoError(t, err)
		out, err := op.Process(ctx, pageView("B", 20001, 2))
		assert.NoError(t, err)

		assert.Equal(t, int64(0), out[0].Value.SessionID)
		assert.Equal(t, "B", out[0].Key)
		assert.Equal(t, 2, op.(kprocessor.StateSizer).StateSize())
	})

	t.Run("late event compares against stored timestamp", func(t *testing.T) {
		// 2000 is older than 10000 and stays in session 1, but it rewinds the
		// stored timestamp, so 8000 looks like a 6000ms gap.
		ids := sessionIDs(t, 5000, "A", 1000, 10000, 2000, 8000)
		assert.Equal(t, []int64{0, 1, 1, 2}, ids)
	})

	t.Run("zero session length", func(t *testing.T) {
		ids := sessionIDs(t, 0, "A", 1000, 1000, 1001, 1001, 5000)
		assert.Equal(t, []int64{0, 0, 1, 1, 2}, ids)
	})

	t.Run("replay is deterministic", func(t *testing.T) {
		timestamps := []int64{500, 7000, 7100, 20000, 20001, 26002}
		first := sessionIDs(t, 5000, "A", timestamps...)
		second := sessionIDs(t, 5000, "A", timestamps...)
		assert.Equal(t, first, second)
	})

	t.Run("payload and metadata are preserved", func(t *testing.T) {
		op, err := PageViewSessionizer(5000, nil)()
		assert.NoError(t, err)

		in := pageView("66.249.1.3", 1000, 17)
		in.Value.Referrer = "www.example.com"
		out, err := op.Process(context.Background(), in)
		assert.NoError(t, err)

		want := in.Value
		want.SessionID = 0
		assert.Equal(t, want, out[0].Value)
		assert.Equal(t, in.Metadata, out[0].Metadata)
		assert.Equal(t, in.Timestamp, out[0].Timestamp)
	})

	t.Run("missing timestamp is malformed and leaves state alone", func(t *testing.T) {
		op, err := PageViewSessionizer(5000, nil)()
		assert.NoError(t, err)

		_, err = op.Process(context.Background(), pageView("A", 0, 9))
		assert.True(t, kprocessor.IsMalformed(err))
		assert.Equal(t, 0, op.(kprocessor.StateSizer).StateSize())
	})

	t.Run("transport errors are fatal", func(t *testing.T) {
		op, err := PageViewSessionizer(5000, nil)()
		assert.NoError(t, err)

		sensitive, ok := op.(kprocessor.TransportSensitive)
		assert.True(t, ok)
		assert.True(t, sensitive.TransportErrorsFatal())
	})

	t.Run("defaults to record timestamp", func(t *testing.T) {
		op, err := NewSessionizer(SessionizerConfig[string, string]{
			SessionLengthMs: 10,
			Stamp:           func(v string, _ int64) string { return v },
		})()
		assert.NoError(t, err)

		ctx := context.Background()
		_, err = op.Process(ctx, kprocessor.Record[string, string]{Key: "k", Timestamp: 100})
		assert.NoError(t, err)
		_, err = op.Process(ctx, kprocessor.Record[string, string]{Key: "k", Timestamp: 200})
		assert.NoError(t, err)

		state, ok := op.(*Sessionizer[string, string]).Session("k")
		assert.True(t, ok)
		assert.Equal(t, SessionState{LastTimestamp: 200, SessionID: 1}, state)
	})

	t.Run("bounded store forgets evicted keys", func(t *testing.T) {
		var evicted []string
		op, err := PageViewSessionizer(5000, kstate.Bounded[string, SessionState](1, func(k string, _ SessionState) {
			evicted = append(evicted, k)
		}))()
		assert.NoError(t, err)

		ctx := context.Background()
		_, err = op.Process(ctx, pageView("A", 1000, 0))
		assert.NoError(t, err)
		_, err = op.Process(ctx, pageView("A", 10000, 1))
		assert.NoError(t, err)
		_, err = op.Process(ctx, pageView("B", 10001, 2))
		assert.NoError(t, err)
		out, err := op.Process(ctx, pageView("A", 10002, 3))
		assert.NoError(t, err)

		assert.Equal(t, []string{"A", "B"}, evicted)
		assert.Equal(t, int64(0), out[0].Value.SessionID)
	})
}

func TestNewSessionizerConfiguration(t *testing.T) {
	t.Run("negative session length", func(t *testing.T) {
		_, err := PageViewSessionizer(-1, nil)()
		var cfgErr *kprocessor.ConfigurationError
		assert.True(t, asConfigurationError(err, &cfgErr))
		assert.Equal(t, "session-length", cfgErr.Field)
	})

	t.Run("missing stamp", func(t *testing.T) {
		_, err := NewSessionizer(SessionizerConfig[string, string]{SessionLengthMs: 1})()
		var cfgErr *kprocessor.ConfigurationError
		assert.True(t, asConfigurationError(err, &cfgErr))
		assert.Equal(t, "stamp", cfgErr.Field)
	})
}
