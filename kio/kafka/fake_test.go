package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/birdayz/clickstream/kio"
	"github.com/birdayz/clickstream/kprocessor"
)

func newFakeCluster(t *testing.T, topic string) *kfake.Cluster {
	t.Helper()
	c, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, topic))
	assert.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func readValues(t *testing.T, brokers []string, topic string, n int) []string {
	t.Helper()
	c, err := NewSource(brokers, topic, 0).Open(context.Background(), kio.Earliest())
	assert.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	values := make([]string, 0, n)
	for range n {
		r, err := c.Next(ctx)
		assert.NoError(t, err)
		values = append(values, string(r.Value))
	}
	return values
}

func flush(t *testing.T, s *Sink) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Flush(ctx)
}

func TestSinkDeliversAfterSendContextIsCanceled(t *testing.T) {
	const topic = "sessionized_clicks"
	cluster := newFakeCluster(t, topic)

	sink, err := NewSink(cluster.ListenAddrs(), topic)
	assert.NoError(t, err)
	defer sink.Close()

	const n = 100
	for i := range n {
		ctx, cancel := context.WithCancel(context.Background())
		err := sink.Send(ctx, kio.RawRecord{Key: []byte("66.249.1.1"), Value: []byte(fmt.Sprintf("v%d", i)), Timestamp: 1000})
		cancel()
		assert.NoError(t, err)
	}
	assert.NoError(t, flush(t, sink))

	values := readValues(t, cluster.ListenAddrs(), topic, n)
	assert.Equal(t, "v0", values[0])
	assert.Equal(t, fmt.Sprintf("v%d", n-1), values[n-1])
}

func TestSinkSendRejectsCanceledContext(t *testing.T) {
	const topic = "sessionized_clicks"
	cluster := newFakeCluster(t, topic)

	sink, err := NewSink(cluster.ListenAddrs(), topic)
	assert.NoError(t, err)
	defer sink.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.IsError(t, sink.Send(ctx, kio.RawRecord{Value: []byte("late")}), context.Canceled)
	assert.NoError(t, flush(t, sink))
}

// failProduceOnce makes the broker reject the next produce request with
// MESSAGE_TOO_LARGE.
func failProduceOnce(c *kfake.Cluster) {
	c.ControlKey(int16(kmsg.Produce), func(kreq kmsg.Request) (kmsg.Response, error, bool) {
		req := kreq.(*kmsg.ProduceRequest)
		resp := req.ResponseKind().(*kmsg.ProduceResponse)
		for _, rt := range req.Topics {
			st := kmsg.NewProduceResponseTopic()
			st.Topic = rt.Topic
			for _, rp := range rt.Partitions {
				sp := kmsg.NewProduceResponseTopicPartition()
				sp.Partition = rp.Partition
				sp.ErrorCode = kerr.MessageTooLarge.Code
				st.Partitions = append(st.Partitions, sp)
			}
			resp.Topics = append(resp.Topics, st)
		}
		return resp, nil, true
	})
}

func TestSinkDeliveryFailureIsReportedOnce(t *testing.T) {
	const topic = "javaproducer-aggregate-sales"
	cluster := newFakeCluster(t, topic)
	failProduceOnce(cluster)

	sink, err := NewSink(cluster.ListenAddrs(), topic)
	assert.NoError(t, err)
	defer sink.Close()

	assert.NoError(t, sink.Send(context.Background(), kio.RawRecord{Value: []byte("rejected")}))
	err = flush(t, sink)
	assert.True(t, kprocessor.IsTransport(err), "got %v", err)
	assert.IsError(t, err, kerr.MessageTooLarge)

	// Reported already; neither a later flush nor later sends see it.
	assert.NoError(t, flush(t, sink))
	const n = 50
	for i := range n {
		assert.NoError(t, sink.Send(context.Background(), kio.RawRecord{Value: []byte(fmt.Sprintf("ok%d", i))}))
	}
	assert.NoError(t, flush(t, sink))

	values := readValues(t, cluster.ListenAddrs(), topic, n)
	assert.Equal(t, "ok0", values[0])
	assert.Equal(t, fmt.Sprintf("ok%d", n-1), values[n-1])
}
