// Package keystore holds the multi-wallet state machine: password setup,
// lock/unlock with rate limiting, wallet and address management, and the
// encrypted persistence protocol.
package keystore

import (
	"time"
)

// WalletType distinguishes seed-backed wallets from hardware-backed ones.
type WalletType string

const (
	WalletTypeLocal    WalletType = "local"
	WalletTypeHardware WalletType = "hardware"
)

// Address is one derived account inside a wallet. PrivateKey is empty for
// hardware-backed addresses and stripped from every sanitized view.
type Address struct {
	Index      uint32 `json:"index"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey,omitempty"`
	Name       string `json:"name"`
}

// Wallet is one keystore entry. Mnemonic is present only for local
// wallets and only inside the encrypted envelope or an unlocked keystore.
type Wallet struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Type               WalletType `json:"type"`
	HardwareType       string     `json:"hardwareType,omitempty"`
	Mnemonic           string     `json:"mnemonic,omitempty"`
	DerivationPath     string     `json:"derivationPath"`
	Addresses          []Address  `json:"addresses"`
	ActiveAddressIndex int        `json:"activeAddressIndex"`
	CreatedAt          time.Time  `json:"createdAt"`

	// HasMnemonic replaces Mnemonic in sanitized views.
	HasMnemonic bool `json:"hasMnemonic,omitempty"`
}

// IsHardware reports whether the wallet cannot sign locally.
func (w *Wallet) IsHardware() bool { return w.Type == WalletTypeHardware }

// ActiveAddress returns the currently selected address.
func (w *Wallet) ActiveAddress() *Address {
	if w.ActiveAddressIndex < 0 || w.ActiveAddressIndex >= len(w.Addresses) {
		return nil
	}
	return &w.Addresses[w.ActiveAddressIndex]
}

// sanitized returns a deep copy without secret material.
func (w *Wallet) sanitized() Wallet {
	out := *w
	out.HasMnemonic = w.Mnemonic != ""
	out.Mnemonic = ""
	out.Addresses = make([]Address, len(w.Addresses))
	for i, a := range w.Addresses {
		a.PrivateKey = ""
		out.Addresses[i] = a
	}
	return out
}

// HardwareWalletInfo describes a hardware wallet to register.
type HardwareWalletInfo struct {
	PublicKey      string `json:"publicKey"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	DerivationPath string `json:"derivationPath"`
}

// persistedState is the JSON document sealed inside the envelope.
type persistedState struct {
	Wallets        []*Wallet `json:"wallets"`
	ActiveWalletID string    `json:"activeWalletId,omitempty"`
}
