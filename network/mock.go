package network

import "context"

// MockChainService is a test double for ChainService.
// All function fields must be set before the corresponding method is called.
type MockChainService struct {
	ListUnspentFn     func(ctx context.Context, scriptID string) ([]*UnspentRef, error)
	SubscribeScriptFn func(ctx context.Context, scriptID string) (string, error)
	GetRawTxFn        func(ctx context.Context, txid string) (string, error)
	BroadcastFn       func(ctx context.Context, rawTxHex string) (string, error)

	// Notifs backs Notifications; create it buffered and push events in
	// the test.
	Notifs chan Notification
}

func (m *MockChainService) ListUnspent(ctx context.Context, scriptID string) ([]*UnspentRef, error) {
	return m.ListUnspentFn(ctx, scriptID)
}

func (m *MockChainService) SubscribeScript(ctx context.Context, scriptID string) (string, error) {
	return m.SubscribeScriptFn(ctx, scriptID)
}

func (m *MockChainService) GetRawTx(ctx context.Context, txid string) (string, error) {
	return m.GetRawTxFn(ctx, txid)
}

func (m *MockChainService) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	return m.BroadcastFn(ctx, rawTxHex)
}

func (m *MockChainService) Notifications() <-chan Notification {
	return m.Notifs
}
