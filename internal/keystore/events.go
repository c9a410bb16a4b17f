package keystore

// EventType names the change notifications the keystore emits.
type EventType string

const (
	EventAccountChanged EventType = "account-changed"
	EventNetworkChanged EventType = "network-changed"
)

// Event is a fire-and-forget notification to external subscribers.
type Event struct {
	Type      EventType `json:"type"`
	WalletID  string    `json:"walletId,omitempty"`
	PublicKey string    `json:"publicKey,omitempty"`
	Network   string    `json:"network,omitempty"`
}

const subscriberBuffer = 32

// Subscribe registers an event listener. Each subscriber receives its own
// events in order; a subscriber that stops draining loses events rather
// than blocking keystore operations. The returned func unsubscribes.
func (k *Keystore) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	k.subMu.Lock()
	id := k.nextSubID
	k.nextSubID++
	k.subscribers[id] = ch
	k.subMu.Unlock()

	return ch, func() {
		k.subMu.Lock()
		if existing, ok := k.subscribers[id]; ok {
			delete(k.subscribers, id)
			close(existing)
		}
		k.subMu.Unlock()
	}
}

// notify delivers an event to every subscriber without blocking.
func (k *Keystore) notify(ev Event) {
	k.subMu.Lock()
	defer k.subMu.Unlock()
	for _, ch := range k.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
