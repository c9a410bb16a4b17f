package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"x1-wallet-go/internal/keys"
	"x1-wallet-go/internal/store"
	"x1-wallet-go/internal/vault"
)

var (
	// ErrNoPasswordSet is returned when an operation needs a configured
	// password and none exists.
	ErrNoPasswordSet = errors.New("keystore: no password set")

	// ErrPasswordAlreadySet guards SetupPassword against overwriting an
	// existing auth hash.
	ErrPasswordAlreadySet = errors.New("keystore: password already set")

	// ErrBadPassword is returned for a wrong unlock or change password.
	ErrBadPassword = errors.New("keystore: invalid password")

	// ErrLocked is returned when secret material is needed while locked.
	ErrLocked = errors.New("keystore: locked")

	// ErrSessionExpired is returned for an expired migration token.
	ErrSessionExpired = errors.New("keystore: session expired")

	// ErrDuplicateWallet is returned when a wallet would share an address
	// with an existing one.
	ErrDuplicateWallet = errors.New("keystore: wallet already exists")

	// ErrLastAddress rejects removal of a wallet's only address.
	ErrLastAddress = errors.New("keystore: cannot remove last address")

	// ErrNotFound is returned for unknown wallet ids or address positions.
	ErrNotFound = errors.New("keystore: not found")

	// ErrNoMnemonic is returned for mnemonic operations on hardware
	// wallets.
	ErrNoMnemonic = errors.New("keystore: wallet has no mnemonic")

	// ErrEmptyWriteBlocked refuses to replace a populated envelope with
	// an empty payload.
	ErrEmptyWriteBlocked = errors.New("keystore: refusing to overwrite envelope with empty state")
)

// LockedOutError reports an active hard lockout and the time remaining.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("keystore: locked out for %s after repeated failures", e.Remaining.Round(time.Second))
}

// migrationTokenTTL bounds how long a legacy payload stays redeemable.
const migrationTokenTTL = 5 * time.Minute

type migrationRecord struct {
	payload   []byte
	expiresAt time.Time
}

// Keystore is the process-wide wallet state machine. One mutex serializes
// every state-mutating operation, including saves.
type Keystore struct {
	mu         sync.Mutex
	persistent store.Store
	session    store.Store // nil when the host offers no session scope
	logger     *logrus.Logger

	wallets        []*Wallet
	activeWalletID string
	locked         bool
	password       string

	rate       rateLimitState
	migrations map[string]migrationRecord
	lastToken  string

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int

	// Injectable clock and sleeper for throttle tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates a keystore over a persistent store and an optional session
// store. Session state left by a previous unlock is restored.
func New(persistent, session store.Store, logger *logrus.Logger) *Keystore {
	k := &Keystore{
		persistent:  persistent,
		session:     session,
		logger:      logger,
		migrations:  make(map[string]migrationRecord),
		subscribers: make(map[int]chan Event),
		now:         time.Now,
		sleep:       time.Sleep,
	}
	k.loadRateLimit()
	// A configured password that is not held in memory means locked,
	// whether or not an envelope has been written yet.
	k.locked = k.hasPasswordLocked()
	k.loadFromSession()
	return k
}

// HasPassword reports whether a password has been configured.
func (k *Keystore) HasPassword() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.hasPasswordLocked()
}

func (k *Keystore) hasPasswordLocked() bool {
	_, ok, err := k.persistent.Get(store.KeyAuthHash)
	return err == nil && ok
}

func (k *Keystore) authHashLocked() (vault.PasswordHash, bool) {
	raw, ok, err := k.persistent.Get(store.KeyAuthHash)
	if err != nil || !ok {
		return vault.PasswordHash{}, false
	}
	var hash vault.PasswordHash
	if err := json.Unmarshal([]byte(raw), &hash); err != nil {
		return vault.PasswordHash{}, false
	}
	return hash, true
}

// SetupPassword configures the initial password and leaves the keystore
// unlocked.
func (k *Keystore) SetupPassword(password string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.hasPasswordLocked() {
		return ErrPasswordAlreadySet
	}
	if err := vault.ValidateSetupPassword(password); err != nil {
		return err
	}
	hash, err := vault.HashPassword(password)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(hash)
	if err != nil {
		return err
	}
	if err := k.persistent.Set(store.KeyAuthHash, string(raw)); err != nil {
		return fmt.Errorf("failed to persist auth hash: %w", err)
	}
	k.password = password
	k.locked = false
	k.logger.Info("password configured")
	return nil
}

// Unlock verifies the password, decrypts the envelope into memory, and
// starts a session. A legacy envelope is migrated to the current format
// before Unlock returns.
func (k *Keystore) Unlock(password string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.hasPasswordLocked() {
		return ErrNoPasswordSet
	}
	if err := k.enforceRateLimit(); err != nil {
		return err
	}

	hash, ok := k.authHashLocked()
	if !ok || !vault.VerifyPassword(password, hash) {
		k.recordUnlockFailure()
		return ErrBadPassword
	}

	envelope, hasEnvelope, err := k.persistent.Get(store.KeyWalletsEnvelope)
	if err != nil {
		return fmt.Errorf("failed to read envelope: %w", err)
	}
	if hasEnvelope {
		legacy := vault.IsLegacy(envelope)
		plaintext, err := vault.Decrypt(envelope, password)
		if err != nil {
			k.recordUnlockFailure()
			return ErrBadPassword
		}
		var state persistedState
		if err := json.Unmarshal(plaintext, &state); err != nil {
			vault.Zero(plaintext)
			return fmt.Errorf("failed to decode wallet state: %w", err)
		}
		k.wallets = state.Wallets
		k.activeWalletID = state.ActiveWalletID

		if legacy {
			if err := k.migrateLegacyLocked(plaintext, password); err != nil {
				vault.Zero(plaintext)
				return err
			}
		}
		vault.Zero(plaintext)
	}

	k.password = password
	k.locked = false
	k.resetRateLimit()
	k.writeSessionLocked()
	k.logger.WithField("wallets", len(k.wallets)).Info("keystore unlocked")
	return nil
}

// migrateLegacyLocked re-encrypts a legacy envelope to the current format
// and verifies the rewrite before declaring success. The decrypted legacy
// payload is retained only behind a short-lived migration token.
func (k *Keystore) migrateLegacyLocked(plaintext []byte, password string) error {
	upgraded, err := vault.Encrypt(plaintext, password)
	if err != nil {
		return fmt.Errorf("legacy migration failed: %w", err)
	}
	version, err := vault.Version(upgraded)
	if err != nil || version != 0x03 {
		return fmt.Errorf("legacy migration produced unexpected envelope version")
	}
	if err := k.persistent.Set(store.KeyWalletsEnvelope, upgraded); err != nil {
		return fmt.Errorf("failed to persist migrated envelope: %w", err)
	}

	token := uuid.NewString()
	payload := make([]byte, len(plaintext))
	copy(payload, plaintext)
	k.migrations[token] = migrationRecord{
		payload:   payload,
		expiresAt: k.now().Add(migrationTokenTTL),
	}
	k.lastToken = token
	k.logger.Info("legacy envelope migrated")
	return nil
}

// MigrationToken returns the token minted by the most recent legacy
// migration, or false when the last unlock did not migrate.
func (k *Keystore) MigrationToken() (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lastToken, k.lastToken != ""
}

// RedeemMigrationToken surfaces the pre-migration payload exactly once.
// Expired or unknown tokens fail with ErrSessionExpired.
func (k *Keystore) RedeemMigrationToken(token string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	record, ok := k.migrations[token]
	if !ok || k.now().After(record.expiresAt) {
		delete(k.migrations, token)
		if k.lastToken == token {
			k.lastToken = ""
		}
		return nil, ErrSessionExpired
	}
	delete(k.migrations, token)
	if k.lastToken == token {
		k.lastToken = ""
	}
	return record.payload, nil
}

// Lock drops all secret material from memory and clears the session.
func (k *Keystore) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.password = ""
	for i, w := range k.wallets {
		s := w.sanitized()
		k.wallets[i] = &s
	}
	k.locked = k.hasPasswordLocked()
	k.clearSessionLocked()
	k.logger.Info("keystore locked")
}

// IsLocked reports whether a configured password is not currently held,
// meaning secret material is unavailable until Unlock.
func (k *Keystore) IsLocked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.locked
}

// ChangePassword re-encrypts the envelope under a new password and
// updates the auth hash.
func (k *Keystore) ChangePassword(oldPassword, newPassword string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	hash, ok := k.authHashLocked()
	if !ok {
		return ErrNoPasswordSet
	}
	if !vault.VerifyPassword(oldPassword, hash) {
		return ErrBadPassword
	}
	if err := vault.ValidateEncryptionPassword(newPassword); err != nil {
		return err
	}

	// Load wallet state with the old password if we do not hold it.
	if k.locked {
		envelope, hasEnvelope, err := k.persistent.Get(store.KeyWalletsEnvelope)
		if err != nil {
			return err
		}
		if hasEnvelope {
			plaintext, err := vault.Decrypt(envelope, oldPassword)
			if err != nil {
				return ErrBadPassword
			}
			var state persistedState
			if err := json.Unmarshal(plaintext, &state); err != nil {
				vault.Zero(plaintext)
				return fmt.Errorf("failed to decode wallet state: %w", err)
			}
			vault.Zero(plaintext)
			k.wallets = state.Wallets
			k.activeWalletID = state.ActiveWalletID
		}
	}

	newHash, err := vault.HashPassword(newPassword)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(newHash)
	if err != nil {
		return err
	}
	if err := k.persistent.Set(store.KeyAuthHash, string(raw)); err != nil {
		return fmt.Errorf("failed to persist auth hash: %w", err)
	}

	k.password = newPassword
	k.locked = false
	if len(k.wallets) > 0 {
		if err := k.saveLocked(); err != nil {
			return err
		}
	}
	k.logger.Info("password changed")
	return nil
}

// CreateWallet adds a wallet from a BIP-39 phrase with one derived
// address at account 0 and makes it active.
func (k *Keystore) CreateWallet(mnemonic, name string) (Wallet, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return Wallet{}, ErrLocked
	}
	if err := keys.ValidateMnemonic(mnemonic); err != nil {
		return Wallet{}, err
	}

	kp, err := keys.MnemonicToKeypairAt(mnemonic, 0)
	if err != nil {
		return Wallet{}, err
	}
	defer kp.Wipe()

	publicKey := kp.PublicBase58()
	if k.findByPublicKeyLocked(publicKey) != nil {
		return Wallet{}, ErrDuplicateWallet
	}

	if name == "" {
		name = fmt.Sprintf("Wallet %d", len(k.wallets)+1)
	}
	w := &Wallet{
		ID:             uuid.NewString(),
		Name:           name,
		Type:           WalletTypeLocal,
		Mnemonic:       mnemonic,
		DerivationPath: keys.DefaultDerivationPath(0),
		Addresses: []Address{{
			Index:      0,
			PublicKey:  publicKey,
			PrivateKey: kp.SecretBase58(),
			Name:       "Account 1",
		}},
		ActiveAddressIndex: 0,
		CreatedAt:          k.now(),
	}

	k.wallets = append(k.wallets, w)
	k.activeWalletID = w.ID
	if err := k.saveLocked(); err != nil {
		k.wallets = k.wallets[:len(k.wallets)-1]
		return Wallet{}, err
	}
	k.notify(Event{Type: EventAccountChanged, WalletID: w.ID, PublicKey: publicKey})
	k.logger.WithField("wallet", w.ID).Info("wallet created")
	return w.sanitized(), nil
}

// ImportWallet adds an existing phrase; the semantics match CreateWallet.
func (k *Keystore) ImportWallet(mnemonic, name string) (Wallet, error) {
	return k.CreateWallet(mnemonic, name)
}

// GenerateWallet creates a fresh mnemonic and the wallet around it. The
// phrase is returned once for the user to back up.
func (k *Keystore) GenerateWallet(name string) (string, Wallet, error) {
	mnemonic, err := keys.NewMnemonic(128)
	if err != nil {
		return "", Wallet{}, err
	}
	w, err := k.CreateWallet(mnemonic, name)
	if err != nil {
		return "", Wallet{}, err
	}
	return mnemonic, w, nil
}

// AddHardwareWallet registers a pubkey-only wallet.
func (k *Keystore) AddHardwareWallet(info HardwareWalletInfo) (Wallet, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return Wallet{}, ErrLocked
	}
	if k.findByPublicKeyLocked(info.PublicKey) != nil {
		return Wallet{}, ErrDuplicateWallet
	}

	name := info.Name
	if name == "" {
		name = fmt.Sprintf("Hardware %d", len(k.wallets)+1)
	}
	path := info.DerivationPath
	if path == "" {
		path = keys.DefaultDerivationPath(0)
	}
	w := &Wallet{
		ID:             uuid.NewString(),
		Name:           name,
		Type:           WalletTypeHardware,
		HardwareType:   info.Type,
		DerivationPath: path,
		Addresses: []Address{{
			Index:     0,
			PublicKey: info.PublicKey,
			Name:      "Account 1",
		}},
		ActiveAddressIndex: 0,
		CreatedAt:          k.now(),
	}

	k.wallets = append(k.wallets, w)
	k.activeWalletID = w.ID
	if err := k.saveLocked(); err != nil {
		k.wallets = k.wallets[:len(k.wallets)-1]
		return Wallet{}, err
	}
	k.notify(Event{Type: EventAccountChanged, WalletID: w.ID, PublicKey: info.PublicKey})
	return w.sanitized(), nil
}

// AddAddress derives the next unused account index for a local wallet,
// appends it, and makes it the wallet's active address.
func (k *Keystore) AddAddress(walletID, name string) (Address, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return Address{}, ErrLocked
	}
	w := k.findLocked(walletID)
	if w == nil {
		return Address{}, ErrNotFound
	}
	if w.IsHardware() || w.Mnemonic == "" {
		return Address{}, ErrNoMnemonic
	}

	var next uint32
	for _, a := range w.Addresses {
		if a.Index >= next {
			next = a.Index + 1
		}
	}
	kp, err := keys.MnemonicToKeypairAt(w.Mnemonic, next)
	if err != nil {
		return Address{}, err
	}
	defer kp.Wipe()

	publicKey := kp.PublicBase58()
	if k.findByPublicKeyLocked(publicKey) != nil {
		return Address{}, ErrDuplicateWallet
	}
	if name == "" {
		name = fmt.Sprintf("Account %d", len(w.Addresses)+1)
	}
	addr := Address{
		Index:      next,
		PublicKey:  publicKey,
		PrivateKey: kp.SecretBase58(),
		Name:       name,
	}
	w.Addresses = append(w.Addresses, addr)
	w.ActiveAddressIndex = len(w.Addresses) - 1

	if err := k.saveLocked(); err != nil {
		w.Addresses = w.Addresses[:len(w.Addresses)-1]
		w.ActiveAddressIndex = len(w.Addresses) - 1
		return Address{}, err
	}
	k.notify(Event{Type: EventAccountChanged, WalletID: w.ID, PublicKey: publicKey})

	addr.PrivateKey = ""
	return addr, nil
}

// RemoveAddress removes the address at the given list position, clamping
// the wallet's active index. The last address cannot be removed.
func (k *Keystore) RemoveAddress(walletID string, position int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return ErrLocked
	}
	w := k.findLocked(walletID)
	if w == nil {
		return ErrNotFound
	}
	if position < 0 || position >= len(w.Addresses) {
		return ErrNotFound
	}
	if len(w.Addresses) == 1 {
		return ErrLastAddress
	}

	w.Addresses = append(w.Addresses[:position], w.Addresses[position+1:]...)
	if w.ActiveAddressIndex >= len(w.Addresses) {
		w.ActiveAddressIndex = len(w.Addresses) - 1
	}
	return k.saveLocked()
}

// SwitchAddress selects the address at the given list position.
func (k *Keystore) SwitchAddress(walletID string, position int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return ErrLocked
	}
	w := k.findLocked(walletID)
	if w == nil {
		return ErrNotFound
	}
	if position < 0 || position >= len(w.Addresses) {
		return ErrNotFound
	}
	w.ActiveAddressIndex = position
	if err := k.saveLocked(); err != nil {
		return err
	}
	k.notify(Event{Type: EventAccountChanged, WalletID: w.ID, PublicKey: w.Addresses[position].PublicKey})
	return nil
}

// RenameAddress updates the display name at the given list position.
func (k *Keystore) RenameAddress(walletID string, position int, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return ErrLocked
	}
	w := k.findLocked(walletID)
	if w == nil {
		return ErrNotFound
	}
	if position < 0 || position >= len(w.Addresses) {
		return ErrNotFound
	}
	w.Addresses[position].Name = name
	return k.saveLocked()
}

// SwitchWallet makes the given wallet active.
func (k *Keystore) SwitchWallet(id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return ErrLocked
	}
	w := k.findLocked(id)
	if w == nil {
		return ErrNotFound
	}
	k.activeWalletID = id
	if err := k.saveLocked(); err != nil {
		return err
	}
	if addr := w.ActiveAddress(); addr != nil {
		k.notify(Event{Type: EventAccountChanged, WalletID: id, PublicKey: addr.PublicKey})
	}
	return nil
}

// RemoveWallet deletes a wallet. Removing the last wallet clears the
// envelope and active-wallet keys but preserves the auth hash.
func (k *Keystore) RemoveWallet(id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return ErrLocked
	}
	idx := -1
	for i, w := range k.wallets {
		if w.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrNotFound
	}

	k.wallets = append(k.wallets[:idx], k.wallets[idx+1:]...)
	if k.activeWalletID == id {
		k.activeWalletID = ""
		if len(k.wallets) > 0 {
			k.activeWalletID = k.wallets[0].ID
		}
	}

	if len(k.wallets) == 0 {
		// Not a save: the empty-payload guard only applies to writes.
		if err := k.persistent.Remove(store.KeyWalletsEnvelope, store.KeyActiveWalletID); err != nil {
			return err
		}
		k.clearSessionLocked()
		k.notify(Event{Type: EventAccountChanged})
		return nil
	}
	if err := k.saveLocked(); err != nil {
		return err
	}
	k.notify(Event{Type: EventAccountChanged, WalletID: k.activeWalletID})
	return nil
}

// ReorderWallets applies a permutation of the current wallet ids.
func (k *Keystore) ReorderWallets(ids []string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return ErrLocked
	}
	if len(ids) != len(k.wallets) {
		return fmt.Errorf("keystore: reorder requires all %d wallet ids", len(k.wallets))
	}
	byID := make(map[string]*Wallet, len(k.wallets))
	for _, w := range k.wallets {
		byID[w.ID] = w
	}
	reordered := make([]*Wallet, 0, len(ids))
	for _, id := range ids {
		w, ok := byID[id]
		if !ok {
			return fmt.Errorf("keystore: unknown wallet id in reorder: %w", ErrNotFound)
		}
		delete(byID, id)
		reordered = append(reordered, w)
	}
	k.wallets = reordered
	return k.saveLocked()
}

// ClearAll wipes wallets, envelope, auth hash, and rate-limit state.
func (k *Keystore) ClearAll() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.wallets = nil
	k.activeWalletID = ""
	k.password = ""
	k.locked = false
	k.rate = rateLimitState{}

	if err := k.persistent.Remove(
		store.KeyWalletsEnvelope,
		store.KeyActiveWalletID,
		store.KeyAuthHash,
		store.KeyRateLimit,
	); err != nil {
		return err
	}
	k.clearSessionLocked()
	k.notify(Event{Type: EventAccountChanged})
	k.logger.Info("keystore cleared")
	return nil
}

// Sanitized returns the wallet list without mnemonics or private keys.
func (k *Keystore) Sanitized() []Wallet {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]Wallet, len(k.wallets))
	for i, w := range k.wallets {
		out[i] = w.sanitized()
	}
	return out
}

// ActiveWalletID returns the id of the active wallet, if any.
func (k *Keystore) ActiveWalletID() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.activeWalletID
}

// GetMnemonic returns a local wallet's phrase while unlocked.
func (k *Keystore) GetMnemonic(id string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return "", ErrLocked
	}
	w := k.findLocked(id)
	if w == nil {
		return "", ErrNotFound
	}
	if w.Mnemonic == "" {
		return "", ErrNoMnemonic
	}
	return w.Mnemonic, nil
}

// ActiveKeypair returns the signing keypair of the active wallet's active
// address. Callers must Wipe the result after use.
func (k *Keystore) ActiveKeypair() (keys.Keypair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.locked {
		return keys.Keypair{}, ErrLocked
	}
	w := k.findLocked(k.activeWalletID)
	if w == nil {
		return keys.Keypair{}, ErrNotFound
	}
	addr := w.ActiveAddress()
	if addr == nil {
		return keys.Keypair{}, ErrNotFound
	}
	if addr.PrivateKey == "" {
		return keys.Keypair{}, ErrNoMnemonic
	}
	return keys.KeypairFromSecretBase58(addr.PrivateKey)
}

// ActivePublicKey returns the active address in base58.
func (k *Keystore) ActivePublicKey() (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	w := k.findLocked(k.activeWalletID)
	if w == nil {
		return "", ErrNotFound
	}
	addr := w.ActiveAddress()
	if addr == nil {
		return "", ErrNotFound
	}
	return addr.PublicKey, nil
}

func (k *Keystore) findLocked(id string) *Wallet {
	for _, w := range k.wallets {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func (k *Keystore) findByPublicKeyLocked(publicKey string) *Wallet {
	for _, w := range k.wallets {
		for _, a := range w.Addresses {
			if a.PublicKey == publicKey {
				return w
			}
		}
	}
	return nil
}

// emptyEnvelopeThreshold separates a trivial envelope (empty state) from
// one that plausibly holds wallets.
const emptyEnvelopeThreshold = 96

// saveLocked serializes, encrypts, and atomically writes the wallet state.
// It refuses to write without a held password and refuses to replace a
// non-trivial envelope with an empty payload.
func (k *Keystore) saveLocked() error {
	existing, hasEnvelope, err := k.persistent.Get(store.KeyWalletsEnvelope)
	if err != nil {
		return fmt.Errorf("failed to read envelope: %w", err)
	}
	if k.password == "" {
		if k.hasPasswordLocked() {
			return ErrLocked
		}
		return ErrNoPasswordSet
	}
	if len(k.wallets) == 0 && hasEnvelope && len(existing) > emptyEnvelopeThreshold {
		return ErrEmptyWriteBlocked
	}

	payload, err := json.Marshal(persistedState{
		Wallets:        k.wallets,
		ActiveWalletID: k.activeWalletID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode wallet state: %w", err)
	}
	envelope, err := vault.Encrypt(payload, k.password)
	if err != nil {
		vault.Zero(payload)
		return fmt.Errorf("failed to encrypt wallet state: %w", err)
	}
	vault.Zero(payload)

	if err := k.persistent.Set(store.KeyWalletsEnvelope, envelope); err != nil {
		return fmt.Errorf("failed to persist envelope: %w", err)
	}
	if err := k.persistent.Set(store.KeyActiveWalletID, k.activeWalletID); err != nil {
		return fmt.Errorf("failed to persist active wallet: %w", err)
	}
	k.writeSessionLocked()
	return nil
}

// writeSessionLocked mirrors the unlocked state into the host's session
// scope so a host reload can skip the password prompt.
func (k *Keystore) writeSessionLocked() {
	if k.session == nil || k.password == "" {
		return
	}
	payload, err := json.Marshal(persistedState{
		Wallets:        k.wallets,
		ActiveWalletID: k.activeWalletID,
	})
	if err != nil {
		return
	}
	if err := k.session.Set(store.KeySessionWallets, string(payload)); err != nil {
		k.logger.WithError(err).Debug("failed to write session state")
		return
	}
	if err := k.session.Set(store.KeySessionPassword, k.password); err != nil {
		k.logger.WithError(err).Debug("failed to write session password")
	}
}

func (k *Keystore) clearSessionLocked() {
	if k.session == nil {
		return
	}
	if err := k.session.Remove(store.KeySessionWallets, store.KeySessionPassword); err != nil {
		k.logger.WithError(err).Debug("failed to clear session")
	}
}

// loadFromSession restores the unlocked state a previous host process
// left behind, skipping the password prompt.
func (k *Keystore) loadFromSession() {
	if k.session == nil {
		return
	}
	stateJSON, okState, err := k.session.Get(store.KeySessionWallets)
	if err != nil || !okState {
		return
	}
	password, okPw, err := k.session.Get(store.KeySessionPassword)
	if err != nil || !okPw {
		return
	}
	var state persistedState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return
	}
	k.wallets = state.Wallets
	k.activeWalletID = state.ActiveWalletID
	k.password = password
	k.locked = false
	k.logger.Debug("restored keystore state from session")
}
