package payment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"remittance/internal/remittance/payment"
	"remittance/internal/remittance/payment/mocks"
	id "remittance/pkg/domain"
	dErrors "remittance/pkg/domain-errors"
	"remittance/pkg/platform/circuit"
)

var wallet = id.MustParseAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")

func TestLedgerRail(t *testing.T) {
	rail := payment.NewLedgerRail()
	ctx := context.Background()

	require.NoError(t, rail.Transfer(ctx, payment.Transfer{Reference: uuid.New(), To: wallet, Amount: 600, Reason: payment.ReasonClaim}))
	require.NoError(t, rail.Transfer(ctx, payment.Transfer{Reference: uuid.New(), To: wallet, Amount: 400, Reason: payment.ReasonClaim}))

	assert.Equal(t, uint64(1000), rail.Balance(wallet))
	assert.Len(t, rail.Transfers(), 2)
	assert.Zero(t, rail.Balance(id.ZeroAddress))
}

func TestBreakerRail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transfer := payment.Transfer{Reference: uuid.New(), To: wallet, Amount: 1, Reason: payment.ReasonClaim}

	t.Run("opens after rail failures and refuses without calling the rail", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		next := mocks.NewMockRail(ctrl)
		breaker := circuit.New("rail", circuit.WithFailureThreshold(2))
		rail := payment.NewBreakerRail(next, breaker, logger)

		boom := errors.New("connection reset")
		next.EXPECT().Transfer(gomock.Any(), transfer).Return(boom).Times(2)

		assert.ErrorIs(t, rail.Transfer(context.Background(), transfer), boom)
		assert.ErrorIs(t, rail.Transfer(context.Background(), transfer), boom)
		assert.True(t, breaker.IsOpen())

		err := rail.Transfer(context.Background(), transfer)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	t.Run("domain errors do not trip the breaker", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		next := mocks.NewMockRail(ctrl)
		breaker := circuit.New("rail", circuit.WithFailureThreshold(1))
		rail := payment.NewBreakerRail(next, breaker, logger)

		refused := dErrors.New(dErrors.CodeInvalidState, "reentrant call rejected")
		next.EXPECT().Transfer(gomock.Any(), transfer).Return(refused)

		assert.ErrorIs(t, rail.Transfer(context.Background(), transfer), refused)
		assert.False(t, breaker.IsOpen())
	})

	t.Run("success passes through", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		next := mocks.NewMockRail(ctrl)
		rail := payment.NewBreakerRail(next, circuit.New("rail"), logger)

		next.EXPECT().Transfer(gomock.Any(), transfer).Return(nil)
		assert.NoError(t, rail.Transfer(context.Background(), transfer))
	})
}
