package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticket-payments/internal/gateway"
	"ticket-payments/internal/status"
)

func newAccountService(gw *mockGateway, st *memStore) *AccountService {
	s := NewAccountService(gw, st, discardLogger())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestProvision_CreatesOnceAndReusesActiveAccount(t *testing.T) {
	gw, st := &mockGateway{}, newMemStore()
	s := newAccountService(gw, st)
	gw.On("CreateVirtualAccount", mock.Anything, "org-1", "Ada Events", "ada@example.com").Return(&gateway.VirtualAccount{
		AccountNumber:    "9900112233",
		AccountName:      "Ada Events",
		BankName:         "Wema Bank",
		BankCode:         "035",
		AccountReference: "HD-ORG-org-1-1",
	}, nil).Once()

	first, err := s.Provision(context.Background(), "org-1", "Ada Events", "ada@example.com")
	require.NoError(t, err)
	second, err := s.Provision(context.Background(), "org-1", "Ada Events", "ada@example.com")
	require.NoError(t, err)

	assert.True(t, first.Active)
	assert.Equal(t, first.AccountNumber, second.AccountNumber)
	gw.AssertNumberOfCalls(t, "CreateVirtualAccount", 1)
}

func TestDeactivate(t *testing.T) {
	gw, st := &mockGateway{}, newMemStore()
	s := newAccountService(gw, st)
	gw.On("CreateVirtualAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&gateway.VirtualAccount{AccountNumber: "9900112233", AccountReference: "HD-ORG-org-1-1"}, nil)
	gw.On("DeactivateVirtualAccount", mock.Anything, "HD-ORG-org-1-1").Return(true, nil).Once()

	_, err := s.Provision(context.Background(), "org-1", "Ada Events", "ada@example.com")
	require.NoError(t, err)

	acct, err := s.Deactivate(context.Background(), "org-1")
	require.NoError(t, err)
	assert.False(t, acct.Active)
	require.NotNil(t, acct.DeactivatedAt)

	_, err = s.Deactivate(context.Background(), "org-1")
	require.NoError(t, err)
	gw.AssertNumberOfCalls(t, "DeactivateVirtualAccount", 1)
}

func TestDeactivate_UnconfirmedIsGatewayError(t *testing.T) {
	gw, st := &mockGateway{}, newMemStore()
	s := newAccountService(gw, st)
	gw.On("CreateVirtualAccount", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&gateway.VirtualAccount{AccountReference: "HD-ORG-org-1-1"}, nil)
	gw.On("DeactivateVirtualAccount", mock.Anything, "HD-ORG-org-1-1").Return(false, nil)

	_, err := s.Provision(context.Background(), "org-1", "Ada Events", "ada@example.com")
	require.NoError(t, err)

	_, err = s.Deactivate(context.Background(), "org-1")

	assert.ErrorIs(t, err, status.ErrGateway)
	stored, _ := st.GetOrganizerAccount(context.Background(), "org-1")
	assert.True(t, stored.Active)
}

func TestDeactivate_UnknownOrganizer(t *testing.T) {
	s := newAccountService(&mockGateway{}, newMemStore())

	_, err := s.Deactivate(context.Background(), "org-404")

	assert.ErrorIs(t, err, status.ErrRecordNotFound)
}
