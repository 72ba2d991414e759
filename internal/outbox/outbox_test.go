package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innovoco-ai/lead-orchestrator/internal/model"
	"github.com/innovoco-ai/lead-orchestrator/pkg/logger"
)

// flakyNotifier fails the first failures attempts, then succeeds.
type flakyNotifier struct {
	failures  int32
	delivered int32
}

func (n *flakyNotifier) SendLeadNotification(ctx context.Context, lead *model.Lead) (*model.NotificationResult, error) {
	if atomic.AddInt32(&n.failures, -1) >= 0 {
		return nil, errors.New("smtp unavailable")
	}
	atomic.AddInt32(&n.delivered, 1)
	return &model.NotificationResult{
		Sent:             true,
		SalesEmailSent:   true,
		WelcomeEmailSent: true,
		Errors:           []string{},
	}, nil
}

func testLead() *model.Lead {
	return &model.Lead{
		ID:        "lead-1",
		SessionID: "sess-1",
		Email:     "sarah@acme.com",
		Company:   "Acme",
		Tier:      model.TierHot,
	}
}

func TestPublishImmediateSuccess(t *testing.T) {
	n := &flakyNotifier{}
	o := New(n, logger.NewNop())

	result := o.Publish(context.Background(), testLead())

	require.NotNil(t, result)
	assert.True(t, result.Sent)
	assert.True(t, result.SalesEmailSent)
	assert.Equal(t, int32(1), atomic.LoadInt32(&n.delivered))
}

func TestPublishFailureQueuesRetry(t *testing.T) {
	n := &flakyNotifier{failures: 2}
	o := New(n, logger.NewNop(), WithRetry(5, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	result := o.Publish(ctx, testLead())

	// The synchronous attempt failed; the caller sees that, but the
	// lead is not lost.
	require.NotNil(t, result)
	assert.False(t, result.Sent)
	assert.NotEmpty(t, result.Errors)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&n.delivered) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetriesAreBounded(t *testing.T) {
	n := &flakyNotifier{failures: 100}
	o := New(n, logger.NewNop(), WithRetry(2, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))

	o.Publish(ctx, testLead())

	// 1 immediate + at most 2 retries.
	time.Sleep(100 * time.Millisecond)
	o.Stop()
	assert.LessOrEqual(t, 100-atomic.LoadInt32(&n.failures), int32(3))
	assert.Zero(t, atomic.LoadInt32(&n.delivered))
}

func TestLogNotifierReportsSent(t *testing.T) {
	n := &LogNotifier{Logger: logger.NewNop()}

	result, err := n.SendLeadNotification(context.Background(), testLead())
	require.NoError(t, err)
	assert.True(t, result.Sent)
	assert.True(t, result.WelcomeEmailSent)
	assert.Empty(t, result.Errors)
}
