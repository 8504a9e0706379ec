package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/tsmc-careerhack-2023-c6/business-app/internal/config"
)

func setupKafkaBus(ctx context.Context, t *testing.T) *KafkaBus {
	t.Helper()

	testKafka := config.SetupTestKafka(ctx, t)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(testKafka.Container)
	})

	b, err := NewKafkaBus(&Config{
		Driver:            DriverKafka,
		Brokers:           testKafka.Brokers,
		GroupID:           "business-test",
		BatchTimeout:      defaultBatchTimeout,
		ReplicationFactor: 1,
	}, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = b.Close()
	})

	return b
}

func TestKafkaBusIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	b := setupKafkaBus(ctx, t)

	subject := Subject("orders", StagePersist, 0)
	querySubject := Subject("orders", StageQuery, 0)

	require.NoError(t, b.EnsureSubjects(ctx, subject, querySubject))
	require.NoError(t, b.EnsureSubjects(ctx, subject), "existing topics are not an error")

	t.Run("publish and subscribe", func(t *testing.T) {
		sub, err := b.Subscribe(ctx, subject)
		require.NoError(t, err)

		defer func() { _ = sub.Close() }()

		require.NoError(t, b.Publish(ctx, Message{
			Subject: subject,
			Data:    []byte("hello"),
			Header:  map[string]string{"trace": "t1"},
		}))

		msg, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, subject, msg.Subject)
		assert.Equal(t, "hello", string(msg.Data))
		assert.Equal(t, "t1", msg.Header["trace"])
	})

	t.Run("request and reply", func(t *testing.T) {
		sub, err := b.Subscribe(ctx, querySubject)
		require.NoError(t, err)

		defer func() { _ = sub.Close() }()

		go func() {
			msg, err := sub.Next(ctx)
			if err != nil {
				return
			}

			_ = b.Publish(ctx, Message{Subject: msg.Reply, Data: append([]byte("re:"), msg.Data...)})
		}()

		reply, err := b.Request(ctx, querySubject, []byte("q1"))
		require.NoError(t, err)
		assert.Equal(t, "re:q1", string(reply))
	})
}
