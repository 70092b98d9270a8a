package messaging_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/serroba/window-limiter/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// journal records lifecycle calls across members in the order they happen.
type journal []string

type member struct {
	name        string
	log         *journal
	startErr    error
	shutdownErr error
}

func (m *member) Start(context.Context) error {
	if m.startErr != nil {
		*m.log = append(*m.log, "fail "+m.name)

		return m.startErr
	}

	*m.log = append(*m.log, "start "+m.name)

	return nil
}

func (m *member) Shutdown() error {
	*m.log = append(*m.log, "stop "+m.name)

	return m.shutdownErr
}

func newGroup(sub *mockSubscriber, log *journal, members ...*member) *messaging.ConsumerGroup {
	group := messaging.NewConsumerGroup(sub, zap.NewNop())

	for _, m := range members {
		m.log = log
		group.Add(m)
	}

	return group
}

func TestConsumerGroup_Lifecycle(t *testing.T) {
	tests := []struct {
		name        string
		members     []*member
		startErr    string
		shutdownErr []string
		want        journal
	}{
		{
			name:    "starts in order and stops in reverse",
			members: []*member{{name: "a"}, {name: "b"}, {name: "c"}},
			want:    journal{"start a", "start b", "start c", "stop c", "stop b", "stop a"},
		},
		{
			name:     "unwinds the started members when one fails",
			members:  []*member{{name: "a"}, {name: "b"}, {name: "c", startErr: errors.New("no stream")}},
			startErr: "no stream",
			want:     journal{"start a", "start b", "fail c", "stop b", "stop a"},
		},
		{
			name:     "never starts members after the failing one",
			members:  []*member{{name: "a", startErr: errors.New("no stream")}, {name: "b"}},
			startErr: "no stream",
			want:     journal{"fail a"},
		},
		{
			name: "keeps stopping after a member fails to stop",
			members: []*member{
				{name: "a", shutdownErr: errors.New("a stuck")},
				{name: "b", shutdownErr: errors.New("b stuck")},
			},
			shutdownErr: []string{"a stuck", "b stuck"},
			want:        journal{"start a", "start b", "stop b", "stop a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log journal

			sub := newMockSubscriber()
			group := newGroup(sub, &log, tt.members...)

			err := group.Start(context.Background())
			if tt.startErr != "" {
				require.ErrorContains(t, err, tt.startErr)
			} else {
				require.NoError(t, err)
			}

			err = group.Shutdown()
			for _, msg := range tt.shutdownErr {
				assert.ErrorContains(t, err, msg)
			}

			if tt.shutdownErr == nil {
				assert.NoError(t, err)
			}

			assert.Equal(t, tt.want, log)
			assert.True(t, sub.closed, "subscriber must be closed on shutdown")
		})
	}
}

func TestConsumerGroup_RollbackErrorsAreReported(t *testing.T) {
	var log journal

	group := newGroup(newMockSubscriber(), &log,
		&member{name: "a", shutdownErr: errors.New("a stuck")},
		&member{name: "b", startErr: errors.New("no stream")},
	)

	err := group.Start(context.Background())

	require.ErrorContains(t, err, "no stream")
	require.ErrorContains(t, err, "a stuck")
	assert.Equal(t, journal{"start a", "fail b", "stop a"}, log)
}

func TestConsumerGroup_SubscriberCloseError(t *testing.T) {
	var log journal

	sub := newMockSubscriber()
	sub.closeErr = errors.New("connection reset")

	group := newGroup(sub, &log, &member{name: "a"})
	require.NoError(t, group.Start(context.Background()))

	err := group.Shutdown()

	require.ErrorContains(t, err, "close subscriber")
	require.ErrorContains(t, err, "connection reset")
	assert.Equal(t, journal{"start a", "stop a"}, log)
}

func TestConsumerGroup_ShutdownWithoutStart(t *testing.T) {
	var log journal

	sub := newMockSubscriber()
	group := newGroup(sub, &log, &member{name: "a"}, &member{name: "b"})

	require.NoError(t, group.Shutdown())
	assert.Empty(t, log, "members that never started are not stopped")
	assert.True(t, sub.closed)
	assert.Equal(t, 2, group.Len())
}

func TestConsumerGroup_RealConsumers(t *testing.T) {
	sub := newMockSubscriber()
	group := messaging.NewConsumerGroup(sub, zap.NewNop())

	for i := range 3 {
		group.Add(messaging.NewConsumer(sub, fmt.Sprintf("topic-%d", i), noopHandler, zap.NewNop()))
	}

	require.NoError(t, group.Start(context.Background()))
	assert.NoError(t, group.Shutdown())
}
