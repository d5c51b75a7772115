package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
	cancel    context.CancelFunc
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		return kafka.Message{}, err
	}
	if len(f.msgs) == 0 {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.msgs[0]
	f.msgs = f.msgs[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestKafkaConsumerIngestsAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"uid":"m-1","activeEnergy":2.5,"timestamp":"2024-01-01T10:00:00Z"}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Value: []byte(`{"activeEnergy":1}`)},
			{Offset: 4, Value: []byte(`{"id-dispositivo":"m-2","activeEnergy":1}`)},
		},
	}
	im, st := newImporter(nil)
	c := newKafkaConsumer(reader, "measurements", im, zap.NewNop())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
	assert.True(t, reader.closed)

	all, err := st.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "m-1", all[0].DeviceID)
	assert.Equal(t, "m-2", all[1].DeviceID)
}

func TestKafkaConsumerStopsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{cancel: cancel, fetchErrs: []error{errors.New("broker unavailable")}}
	im, _ := newImporter(nil)
	c := newKafkaConsumer(reader, "measurements", im, zap.NewNop())

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.True(t, reader.closed)
}

func TestKafkaConsumerRetriesStoreFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			{Offset: 7, Value: []byte(`{"uid":"m-1","activeEnergy":2.5,"timestamp":"2024-01-01T10:00:00Z"}`)},
		},
	}
	im, st := newImporter(nil)
	st.FailWith(errors.New("connection refused"))
	c := newKafkaConsumer(reader, "measurements", im, zap.NewNop())
	c.minBackoff = 5 * time.Millisecond
	c.maxBackoff = 20 * time.Millisecond

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	reader.mu.Lock()
	assert.Empty(t, reader.committed, "offset committed while the store was down")
	reader.mu.Unlock()
	st.FailWith(nil)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	assert.Equal(t, []int64{7}, reader.committed)
	all, err := st.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "m-1", all[0].DeviceID)
}

func TestKafkaConsumerStoreOutageStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{
		cancel: cancel,
		msgs:   []kafka.Message{{Offset: 1, Value: []byte(`{"uid":"a","activeEnergy":1}`)}},
	}
	im, st := newImporter(nil)
	st.FailWith(errors.New("connection refused"))
	c := newKafkaConsumer(reader, "measurements", im, zap.NewNop())
	c.minBackoff = 5 * time.Millisecond

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, reader.committed)
	assert.True(t, reader.closed)
}

func TestNewKafkaConsumerValidatesConfig(t *testing.T) {
	im, _ := newImporter(nil)

	_, err := NewKafkaConsumer(KafkaConfig{Topic: "t"}, im, zap.NewNop())
	assert.Error(t, err)
	_, err = NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}}, im, zap.NewNop())
	assert.Error(t, err)
}
