package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/urfave/cli.v1"

	"github.com/bitfsorg/libpayshare-go/revshare"
	"github.com/bitfsorg/libpayshare-go/treasury"
	"github.com/bitfsorg/libpayshare-go/wallet"
)

// parsePayee parses ADDR:WEIGHT. ADDR is a P2PKH address or a 40-char hex
// public key hash.
func parsePayee(s string) (revshare.RevShareEntry, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return revshare.RevShareEntry{}, fmt.Errorf("payee %q: want ADDR:WEIGHT", s)
	}
	addr, err := revshare.ParseAddress(s[:i])
	if err != nil {
		return revshare.RevShareEntry{}, err
	}
	share, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return revshare.RevShareEntry{}, fmt.Errorf("payee %q: weight: %w", s, err)
	}
	return revshare.RevShareEntry{Address: addr, Share: share}, nil
}

func (s *session) initCommand() cli.Command {
	return cli.Command{
		Name:      "init",
		Usage:     "register the beneficiaries of the pool",
		ArgsUsage: "--payee ADDR:WEIGHT [--payee ADDR:WEIGHT ...]",
		Flags: []cli.Flag{
			cli.StringSliceFlag{Name: "payee", Usage: "beneficiary address and share weight"},
		},
		Action: s.initAction,
	}
}

func (s *session) initAction(ctx *cli.Context) error {
	payees := ctx.StringSlice("payee")
	entries := make([]revshare.RevShareEntry, 0, len(payees))
	for _, p := range payees {
		e, err := parsePayee(p)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	reg, err := revshare.NewRegistry(entries)
	if err != nil {
		return err
	}

	store, err := revshare.OpenBoltStore(s.ledgerPath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.PutRegistry(reg); err != nil {
		return err
	}

	s.logger.Info("registry stored", "path", s.ledgerPath(), "beneficiaries", reg.Len())
	fmt.Fprintf(ctx.App.Writer, "registered %d beneficiaries, %d shares\n", reg.Len(), reg.TotalShares())
	return nil
}

func (s *session) walletNewCommand() cli.Command {
	return cli.Command{
		Name:  "wallet-new",
		Usage: "create the pool wallet (password from " + EnvPassword + ")",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "short", Usage: "12-word mnemonic instead of 24"},
		},
		Action: s.walletNewAction,
	}
}

func (s *session) walletNewAction(ctx *cli.Context) error {
	pw, err := s.password()
	if err != nil {
		return err
	}
	bits := wallet.Mnemonic24Words
	if ctx.Bool("short") {
		bits = wallet.Mnemonic12Words
	}
	mnemonic, err := wallet.GenerateMnemonic(bits)
	if err != nil {
		return err
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return err
	}
	path, err := wallet.SaveSeedFile(s.cfg.DataDir, seed, pw)
	if err != nil {
		return err
	}

	s.logger.Info("wallet created", "path", path)
	fmt.Fprintf(ctx.App.Writer, "wallet written to %s\n\nrecovery mnemonic (write it down):\n%s\n", path, mnemonic)
	return nil
}

func (s *session) poolCommand() cli.Command {
	return cli.Command{
		Name:  "pool",
		Usage: "print the pool and fee addresses",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "import", Usage: "register both addresses with the node as watch-only"},
		},
		Action: s.poolAction,
	}
}

func (s *session) poolAction(ctx *cli.Context) error {
	pool, fee, w, err := s.poolKeys()
	if err != nil {
		return err
	}
	poolAddr, err := w.Address(pool)
	if err != nil {
		return err
	}
	feeAddr, err := w.Address(fee)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "pool  %s  %s\n", poolAddr.AddressString, pool.Path)
	fmt.Fprintf(ctx.App.Writer, "fee   %s  %s\n", feeAddr.AddressString, fee.Path)

	if !ctx.Bool("import") {
		return nil
	}
	cp, err := s.chainPool()
	if err != nil {
		return err
	}
	c, cancel := s.context()
	defer cancel()
	if err := cp.ImportAddresses(c); err != nil {
		return err
	}
	fmt.Fprintln(ctx.App.Writer, "addresses imported")
	return nil
}

func (s *session) statusCommand() cli.Command {
	return cli.Command{
		Name:   "status",
		Usage:  "show pool balance and per-beneficiary entitlements",
		Action: s.statusAction,
	}
}

func (s *session) statusAction(ctx *cli.Context) error {
	l, _, store, err := s.openLedger()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	c, cancel := s.context()
	defer cancel()
	snap, err := l.Snapshot(c)
	if err != nil {
		return err
	}

	out := ctx.App.Writer
	fmt.Fprintf(out, "balance   %d\nreceived  %d\nreleased  %d\nshares    %d\n\n",
		snap.PoolBalance, snap.TotalReceived, snap.TotalReleased, snap.TotalShares)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BENEFICIARY\tSHARE\tENTITLED\tRELEASED\tRELEASABLE")
	for _, b := range snap.Beneficiaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", b.Address, b.Share, b.Entitlement, b.Released, b.Releasable)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, p := range snap.Pending {
		fmt.Fprintf(out, "\npending   %d to %s in %s, run settle\n", p.Amount, p.Address, treasury.RefTxID(p.Ref))
	}
	return nil
}

func (s *session) depositCommand() cli.Command {
	return cli.Command{
		Name:      "deposit",
		Usage:     "record a payment observed at the pool address",
		ArgsUsage: "--from ADDR AMOUNT",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "from", Usage: "paying address"},
		},
		Action: s.depositAction,
	}
}

func (s *session) depositAction(ctx *cli.Context) error {
	from, err := revshare.ParseAddress(ctx.String("from"))
	if err != nil {
		return err
	}
	if ctx.NArg() != 1 {
		return errors.New("deposit: want exactly one AMOUNT argument")
	}
	amount, err := strconv.ParseUint(ctx.Args().First(), 10, 64)
	if err != nil {
		return fmt.Errorf("deposit: amount: %w", err)
	}

	l, _, store, err := s.openLedger()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	c, cancel := s.context()
	defer cancel()
	if err := l.Deposit(c, from, amount); err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "recorded deposit of %d from %s\n", amount, from)
	return nil
}

func (s *session) releaseCommand() cli.Command {
	return cli.Command{
		Name:      "release",
		Usage:     "pay a beneficiary everything it is owed",
		ArgsUsage: "ADDR",
		Action:    s.releaseAction,
	}
}

func (s *session) releaseAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("release: want exactly one ADDR argument")
	}
	beneficiary, err := revshare.ParseAddress(ctx.Args().First())
	if err != nil {
		return err
	}

	l, pool, store, err := s.openLedger()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	c, cancel := s.context()
	defer cancel()
	paid, err := l.Release(c, beneficiary)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "released %d to %s in %s\n", paid, beneficiary, pool.LastTxID())
	return nil
}

func (s *session) settleCommand() cli.Command {
	return cli.Command{
		Name:   "settle",
		Usage:  "settle releases whose payout outcome was not confirmed",
		Action: s.settleAction,
	}
}

func (s *session) settleAction(ctx *cli.Context) error {
	l, _, store, err := s.openLedger()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pending := l.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(ctx.App.Writer, "no pending releases")
		return nil
	}
	c, cancel := s.context()
	defer cancel()
	if err := l.ResolvePending(c); err != nil {
		return err
	}
	for _, p := range pending {
		fmt.Fprintf(ctx.App.Writer, "settled %d to %s: released %d\n", p.Amount, p.Address, l.ReleasedOf(p.Address))
	}
	return nil
}

func (s *session) eventsCommand() cli.Command {
	return cli.Command{
		Name:  "events",
		Usage: "print the deposit and release audit log",
		Flags: []cli.Flag{
			cli.Uint64Flag{Name: "since", Usage: "only events after this sequence number"},
		},
		Action: s.eventsAction,
	}
}

func (s *session) eventsAction(ctx *cli.Context) error {
	store, err := revshare.OpenBoltStore(s.ledgerPath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	events, err := store.EventsSince(ctx.Uint64("since"))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(ctx.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tKIND\tADDRESS\tAMOUNT\tTXID")
	for _, ev := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			ev.Seq, ev.Time.UTC().Format("2006-01-02T15:04:05Z"), ev.Kind, ev.Address, ev.Amount, treasury.RefTxID(ev.Ref))
	}
	return tw.Flush()
}

func (s *session) txStatusCommand() cli.Command {
	return cli.Command{
		Name:      "tx-status",
		Usage:     "show the confirmation status of a payout transaction",
		ArgsUsage: "TXID",
		Action:    s.txStatusAction,
	}
}

func (s *session) txStatusAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("tx-status: want exactly one TXID argument")
	}
	chain, err := s.chain()
	if err != nil {
		return err
	}
	c, cancel := s.context()
	defer cancel()
	st, err := chain.GetTxStatus(c, ctx.Args().First())
	if err != nil {
		return err
	}
	if !st.Confirmed {
		fmt.Fprintln(ctx.App.Writer, "unconfirmed")
		return nil
	}
	fmt.Fprintf(ctx.App.Writer, "confirmed  %d confirmations  block %d %s\n",
		st.Confirmations, st.BlockHeight, st.BlockHash)
	return nil
}
