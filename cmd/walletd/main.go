package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"x1-wallet-go/internal/config"
	"x1-wallet-go/internal/keystore"
	"x1-wallet-go/internal/logger"
	"x1-wallet-go/internal/resolver"
	"x1-wallet-go/internal/solana"
	"x1-wallet-go/internal/store"
	"x1-wallet-go/internal/wallet"
)

const Version = "1.0.0"

// CLI flags
var (
	configFile  = flag.String("config", "", "Path to config file")
	network     = flag.String("network", "", "Network to use (x1-mainnet/x1-testnet/solana-mainnet/solana-devnet)")
	logLevel    = flag.String("log-level", "", "Log level (debug/info/warn/error)")
	storagePath = flag.String("storage", "", "Path to the wallet store file")
	priorityFee = flag.Uint64("priority-fee", 0, "Priority fee in micro-lamports per compute unit")
	skipSim     = flag.Bool("skip-preflight", false, "Submit without pre-flight simulation")
	noConfirm   = flag.Bool("no-confirm", false, "Don't wait for transaction confirmation")
	walletName  = flag.String("name", "", "Wallet or address label")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const usage = `Usage: walletd [flags] <command> [args]

Commands:
  init                      Set the keystore password
  generate                  Generate a new wallet from a fresh mnemonic
  import                    Import a wallet from a mnemonic (prompted)
  wallets                   List wallets and addresses
  add-address <wallet-id>   Derive the next address of a wallet
  use <wallet-id> [index]   Switch the active wallet (and address)
  export <wallet-id>        Print a wallet's mnemonic (requires password)
  balance                   Show the active address balance
  tokens                    List the active address's token accounts
  send <to> <amount>        Send native units to an address
  send-token <to> <mint> <amount>
                            Send token base units to a wallet address
  wrap <amount>             Wrap native units into the wrapped mint
  unwrap                    Close the wrapped-native account
  change-password           Rotate the keystore password

Amounts are in base units (lamports / token base units).
`

// App wires the configuration, keystore and signing service together for
// one command invocation.
type App struct {
	config   *config.Config
	logger   *logrus.Logger
	keystore *keystore.Keystore
	client   *solana.Client
	wallet   *wallet.Service
	ws       *solana.WSClient
}

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *showVersion {
		fmt.Printf("walletd %s\n", Version)
		return
	}
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfigurationWithOverrides()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	app, err := NewApp(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize")
	}
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, args[0], args[1:]); err != nil {
		log.WithError(err).Fatal(args[0] + " failed")
	}
}

func loadConfigurationWithOverrides() (*config.Config, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}
	if *network != "" {
		cfg.Network = *network
		if url, ok := config.EndpointFor(*network); ok {
			cfg.RPCUrl = url
		}
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *storagePath != "" {
		cfg.Storage.Path = *storagePath
	}
	if *priorityFee > 0 {
		cfg.Transaction.PriorityFeeMicroLamports = *priorityFee
	}
	if *skipSim {
		cfg.Transaction.SkipPreflight = true
	}
	if *noConfirm {
		cfg.Transaction.ConfirmTimeoutSec = 0
	}
	return cfg, nil
}

func NewApp(cfg *config.Config, log *logrus.Logger) (*App, error) {
	persistent, err := store.NewFileStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	ks := keystore.New(persistent, nil, log)

	client := solana.NewClient(solana.ClientConfig{
		Endpoint: cfg.RPCUrl,
		Timeout:  cfg.Transaction.RPCTimeout(),
	}, log)
	res := resolver.New(client, persistent, log)

	// The WebSocket watcher is best-effort; polling covers its absence.
	var ws *solana.WSClient
	if cfg.WSUrl != "" && cfg.Transaction.ConfirmTimeoutSec > 0 {
		candidate := solana.NewWSClient(cfg.WSUrl, log)
		connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := candidate.Connect(connectCtx); err != nil {
			log.WithError(err).Debug("websocket unavailable, confirmations will poll")
		} else {
			ws = candidate
		}
		cancel()
	}

	svc := wallet.New(ks, client, res, ws, log, wallet.Options{
		PriorityFeeMicroLamports: cfg.Transaction.PriorityFeeMicroLamports,
		ComputeUnitLimit:         cfg.Transaction.ComputeUnitLimit,
		SkipPreflight:            cfg.Transaction.SkipPreflight,
		ConfirmTimeout:           cfg.Transaction.ConfirmTimeout(),
	})

	return &App{
		config:   cfg,
		logger:   log,
		keystore: ks,
		client:   client,
		wallet:   svc,
		ws:       ws,
	}, nil
}

func (a *App) Close() {
	if a.ws != nil {
		_ = a.ws.Close()
	}
}

func (a *App) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "init":
		return a.cmdInit()
	case "generate":
		return a.cmdGenerate()
	case "import":
		return a.cmdImport()
	case "wallets":
		return a.cmdWallets()
	case "add-address":
		return a.cmdAddAddress(args)
	case "use":
		return a.cmdUse(args)
	case "export":
		return a.cmdExport(args)
	case "balance":
		return a.cmdBalance(ctx)
	case "tokens":
		return a.cmdTokens(ctx)
	case "send":
		return a.cmdSend(ctx, args)
	case "send-token":
		return a.cmdSendToken(ctx, args)
	case "wrap":
		return a.cmdWrap(ctx, args)
	case "unwrap":
		return a.cmdUnwrap(ctx)
	case "change-password":
		return a.cmdChangePassword()
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *App) cmdInit() error {
	if a.keystore.HasPassword() {
		return fmt.Errorf("keystore already initialized")
	}
	password, err := promptPassword("New password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}
	if err := a.keystore.SetupPassword(password); err != nil {
		return err
	}
	fmt.Println("Keystore initialized.")
	return nil
}

func (a *App) cmdGenerate() error {
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	mnemonic, w, err := a.keystore.GenerateWallet(*walletName)
	if err != nil {
		return err
	}
	fmt.Printf("Wallet %s created: %s\n", w.ID, w.Addresses[0].PublicKey)
	fmt.Println("\nRecovery phrase (write it down, it is not shown again):")
	fmt.Printf("\n  %s\n\n", mnemonic)
	return nil
}

func (a *App) cmdImport() error {
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	mnemonic, err := promptPassword("Mnemonic: ")
	if err != nil {
		return err
	}
	w, err := a.keystore.ImportWallet(mnemonic, *walletName)
	if err != nil {
		return err
	}
	fmt.Printf("Wallet %s imported: %s\n", w.ID, w.Addresses[0].PublicKey)
	return nil
}

func (a *App) cmdWallets() error {
	wallets := a.keystore.Sanitized()
	if len(wallets) == 0 {
		fmt.Println("No wallets. Run 'walletd generate' or 'walletd import'.")
		return nil
	}
	activeID := a.keystore.ActiveWalletID()
	for _, w := range wallets {
		marker := " "
		if w.ID == activeID {
			marker = "*"
		}
		fmt.Printf("%s %s  %s (%s)\n", marker, w.ID, w.Name, w.Type)
		for i, addr := range w.Addresses {
			active := " "
			if i == w.ActiveAddressIndex {
				active = ">"
			}
			fmt.Printf("   %s [%d] %s  %s\n", active, addr.Index, addr.PublicKey, addr.Name)
		}
	}
	return nil
}

func (a *App) cmdAddAddress(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: add-address <wallet-id>")
	}
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	addr, err := a.keystore.AddAddress(args[0], *walletName)
	if err != nil {
		return err
	}
	fmt.Printf("Address [%d] %s\n", addr.Index, addr.PublicKey)
	return nil
}

func (a *App) cmdUse(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: use <wallet-id> [address-position]")
	}
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	if err := a.keystore.SwitchWallet(args[0]); err != nil {
		return err
	}
	if len(args) == 2 {
		position, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid address position %q", args[1])
		}
		if err := a.keystore.SwitchAddress(args[0], position); err != nil {
			return err
		}
	}
	address, err := a.keystore.ActivePublicKey()
	if err != nil {
		return err
	}
	fmt.Printf("Active address: %s\n", address)
	return nil
}

func (a *App) cmdExport(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: export <wallet-id>")
	}
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	mnemonic, err := a.keystore.GetMnemonic(args[0])
	if err != nil {
		return err
	}
	fmt.Println(mnemonic)
	return nil
}

func (a *App) cmdBalance(ctx context.Context) error {
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	address, err := a.keystore.ActivePublicKey()
	if err != nil {
		return err
	}
	lamports, err := a.wallet.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d (%.9f)\n", address, lamports,
		float64(lamports)/float64(config.LamportsPerUnit))
	return nil
}

func (a *App) cmdTokens(ctx context.Context) error {
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	accounts, err := a.wallet.TokenAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("No token accounts.")
		return nil
	}
	for _, acct := range accounts {
		fmt.Printf("%s  mint=%s  amount=%d\n", acct.Pubkey, acct.Mint, acct.Amount)
	}
	return nil
}

func (a *App) cmdSend(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: send <to> <lamports>")
	}
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[1])
	}
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	result, err := a.wallet.Transfer(ctx, args[0], amount)
	if err != nil {
		return err
	}
	fmt.Printf("Signature: %s\n", result.Signature)
	return nil
}

func (a *App) cmdSendToken(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: send-token <to> <mint> <amount>")
	}
	amount, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[2])
	}
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	result, err := a.wallet.TransferToken(ctx, args[0], args[1], amount)
	if err != nil {
		return err
	}
	if result.SelfTransfer {
		fmt.Println("Recipient is the active address; nothing to do.")
		return nil
	}
	fmt.Printf("Signature: %s\n", result.Signature)
	return nil
}

func (a *App) cmdWrap(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: wrap <lamports>")
	}
	amount, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[0])
	}
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	result, err := a.wallet.Wrap(ctx, amount)
	if err != nil {
		return err
	}
	fmt.Printf("Signature: %s\n", result.Signature)
	return nil
}

func (a *App) cmdUnwrap(ctx context.Context) error {
	if err := a.ensureUnlocked(); err != nil {
		return err
	}
	result, err := a.wallet.Unwrap(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Signature: %s\n", result.Signature)
	return nil
}

func (a *App) cmdChangePassword() error {
	old, err := promptPassword("Current password: ")
	if err != nil {
		return err
	}
	next, err := promptPassword("New password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm new password: ")
	if err != nil {
		return err
	}
	if next != confirm {
		return fmt.Errorf("passwords do not match")
	}
	if err := a.keystore.ChangePassword(old, next); err != nil {
		return err
	}
	fmt.Println("Password changed.")
	return nil
}

// ensureUnlocked prompts for the password when the keystore holds an
// encrypted payload.
func (a *App) ensureUnlocked() error {
	if !a.keystore.HasPassword() {
		return fmt.Errorf("keystore not initialized, run 'walletd init' first")
	}
	if !a.keystore.IsLocked() {
		return nil
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	if err := a.keystore.Unlock(password); err != nil {
		var locked *keystore.LockedOutError
		if errors.As(err, &locked) {
			return fmt.Errorf("too many failed attempts, locked for %s", locked.Remaining.Round(time.Minute))
		}
		return err
	}
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		// Piped input (scripts) falls back to a plain line read.
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
