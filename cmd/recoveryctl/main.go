package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/ruteri/share-recovery-backend/api/clients"
	"github.com/ruteri/share-recovery-backend/cmd/flags"
	"github.com/ruteri/share-recovery-backend/common"
	"github.com/ruteri/share-recovery-backend/cryptoutils"
	"github.com/ruteri/share-recovery-backend/interfaces"
	"github.com/ruteri/share-recovery-backend/recovery"
	"github.com/ruteri/share-recovery-backend/sharing"
	"github.com/ruteri/share-recovery-backend/storage"
	"github.com/urfave/cli/v2"
)

var flagServerAddr = &cli.StringFlag{
	Name:    "url",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"RECOVERY_URL"},
	Usage:   "recovery server address",
}
var flagAccount = &cli.Int64Flag{
	Name:    "account",
	EnvVars: []string{"RECOVERY_ACCOUNT"},
	Usage:   "account id requests are signed as",
}
var flagKey = &cli.StringFlag{
	Name:    "key",
	EnvVars: []string{"RECOVERY_KEY"},
	Usage:   "PEM private key file used to sign requests and open shares",
}

var flagOut = &cli.StringFlag{
	Name:     "out",
	Required: true,
	Usage:    "output path prefix; writes <out>.pub.pem and <out>.key.pem",
}
var flagSecret = &cli.StringFlag{
	Name:     "secret",
	Required: true,
	Usage:    "hex encoded secret to split",
}
var flagHolder = &cli.StringSliceFlag{
	Name:     "holder",
	Required: true,
	Usage:    "PEM public key file of a share holder; repeatable",
}
var flagThreshold = &cli.IntFlag{
	Name:  "threshold",
	Usage: "shares needed to reconstruct; defaults to the holder count (at least 2)",
}
var flagShare = &cli.StringSliceFlag{
	Name:  "share",
	Usage: "base64 sealed share; repeatable. Read from stdin when omitted",
}
var flagUsername = &cli.StringFlag{Name: "username", Required: true}
var flagEmail = &cli.StringFlag{Name: "email", Required: true}
var flagCredentialHash = &cli.StringFlag{
	Name:     "credential-hash",
	Required: true,
	Usage:    "client-side hash of the account password",
}
var flagPublicKey = &cli.StringFlag{
	Name:     "public-key",
	Required: true,
	Usage:    "PEM public key file of the account",
}
var flagPrivateKeyBlob = &cli.StringFlag{
	Name:  "private-key-blob",
	Usage: "file holding the encrypted private key blob",
}
var flagAgent = &cli.StringFlag{
	Name:     "agent",
	Required: true,
	Usage:    "username or email of the recovery agent",
}
var flagBackupShare = &cli.StringFlag{
	Name:  "backup-share",
	Usage: "base64 share sealed to the agent",
}
var flagEdge = &cli.Int64Flag{Name: "edge", Required: true, Usage: "trust edge id"}
var flagTarget = &cli.Int64Flag{Name: "target", Required: true, Usage: "account id under recovery"}
var flagSession = &cli.StringFlag{Name: "session", Required: true, Usage: "recovery session id"}
var flagVerifyKey = &cli.StringFlag{
	Name:  "verify-key",
	Usage: "proposed PEM private key; reconstructs the secret before committing",
}
var flagID = &cli.StringFlag{Name: "id", Required: true, Usage: "hex content id of the receipt"}
var flagIdentity = &cli.StringFlag{
	Name:  "identity",
	Usage: "age identity file for sealed receipts",
}

func main() {
	app := &cli.App{
		Name:    "recoveryctl",
		Usage:   "Client for the vault share recovery API",
		Version: common.Version,
		Flags:   append([]cli.Flag{flagServerAddr, flagAccount, flagKey}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "Generate a P-256 key pair",
				Flags:  []cli.Flag{flagOut},
				Action: keygen,
			},
			{
				Name:   "split",
				Usage:  "Split a secret and seal one share to each holder",
				Flags:  []cli.Flag{flagSecret, flagHolder, flagThreshold},
				Action: split,
			},
			{
				Name:   "combine",
				Usage:  "Open sealed shares with --key and print the secret",
				Flags:  []cli.Flag{flagShare, flagThreshold},
				Action: combine,
			},
			{
				Name:   "register",
				Usage:  "Create an account",
				Flags:  []cli.Flag{flagUsername, flagEmail, flagCredentialHash, flagPublicKey, flagPrivateKeyBlob, flagShare},
				Action: register,
			},
			{
				Name:   "request-trust",
				Usage:  "Ask an agent to hold a backup share",
				Flags:  []cli.Flag{flagAgent, flagBackupShare},
				Action: requestTrust,
			},
			{
				Name:   "accept-trust",
				Flags:  []cli.Flag{flagEdge},
				Action: acceptTrust,
			},
			{
				Name:   "eligible",
				Usage:  "List recoveries this account may contribute to",
				Action: eligible,
			},
			{
				Name:   "submit-share",
				Usage:  "Reseal the held backup share to the recovering account's new key and submit it",
				Flags:  []cli.Flag{flagTarget},
				Action: submitShare,
			},
			{
				Name:   "count",
				Flags:  []cli.Flag{flagTarget},
				Action: count,
			},
			{
				Name:   "commit",
				Usage:  "Commit a recovery with one submission from each of threshold agents",
				Flags:  []cli.Flag{flagTarget, flagSession, flagVerifyKey},
				Action: commit,
			},
			{
				Name:   "receipt",
				Usage:  "Print an archived commit receipt",
				Flags:  []cli.Flag{flags.ArchiveFlag, flagID, flagIdentity},
				Action: receipt,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) (*clients.RecoveryClient, error) {
	c := clients.NewRecoveryClient(cCtx.String(flagServerAddr.Name), 0, nil)
	if !cCtx.IsSet(flagKey.Name) {
		return c, nil
	}
	keyPEM, err := os.ReadFile(cCtx.String(flagKey.Name))
	if err != nil {
		return nil, fmt.Errorf("could not read key: %w", err)
	}
	priv, err := cryptoutils.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return c.WithAccount(interfaces.AccountID(cCtx.Int64(flagAccount.Name)), priv), nil
}

func ownKey(cCtx *cli.Context) ([]byte, error) {
	if !cCtx.IsSet(flagKey.Name) {
		return nil, errors.New("--key is required")
	}
	return os.ReadFile(cCtx.String(flagKey.Name))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func keygen(cCtx *cli.Context) error {
	pub, priv, err := cryptoutils.GenerateKeyPair()
	if err != nil {
		return err
	}
	out := cCtx.String(flagOut.Name)
	if err := os.WriteFile(out+".pub.pem", pub, 0o644); err != nil {
		return err
	}
	return os.WriteFile(out+".key.pem", priv, 0o600)
}

func split(cCtx *cli.Context) error {
	secret, err := hex.DecodeString(cCtx.String(flagSecret.Name))
	if err != nil {
		return fmt.Errorf("invalid secret: %w", err)
	}

	var holders [][]byte
	for _, path := range cCtx.StringSlice(flagHolder.Name) {
		pub, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		holders = append(holders, pub)
	}

	threshold := cCtx.Int(flagThreshold.Name)
	if threshold == 0 {
		threshold = recovery.ThresholdFor(len(holders))
	}
	sealed, err := sharing.SplitAndSeal(secret, holders, threshold)
	if err != nil {
		return err
	}
	for _, s := range sealed {
		fmt.Println(base64.StdEncoding.EncodeToString(s))
	}
	return nil
}

// readShares returns --share values, or base64 lines from stdin.
func readShares(cCtx *cli.Context) ([][]byte, error) {
	encoded := cCtx.StringSlice(flagShare.Name)
	if len(encoded) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				encoded = append(encoded, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	shares := make([][]byte, 0, len(encoded))
	for _, e := range encoded {
		s, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, fmt.Errorf("invalid share: %w", err)
		}
		shares = append(shares, s)
	}
	return shares, nil
}

func combine(cCtx *cli.Context) error {
	keyPEM, err := ownKey(cCtx)
	if err != nil {
		return err
	}
	shares, err := readShares(cCtx)
	if err != nil {
		return err
	}

	threshold := cCtx.Int(flagThreshold.Name)
	if threshold == 0 {
		threshold = len(shares)
	}
	r := sharing.NewRecoverer(threshold)
	for _, s := range shares {
		if _, err := r.AddSealed(keyPEM, s); err != nil {
			return err
		}
	}
	if r.Secret() == nil {
		return fmt.Errorf("not enough shares to reconstruct the secret")
	}
	fmt.Println(hex.EncodeToString(r.Secret()))
	return nil
}

func register(cCtx *cli.Context) error {
	c, err := newClient(cCtx)
	if err != nil {
		return err
	}
	pub, err := os.ReadFile(cCtx.String(flagPublicKey.Name))
	if err != nil {
		return err
	}
	var blob []byte
	if path := cCtx.String(flagPrivateKeyBlob.Name); path != "" {
		if blob, err = os.ReadFile(path); err != nil {
			return err
		}
	}
	var shares [][]byte
	if cCtx.IsSet(flagShare.Name) {
		if shares, err = readShares(cCtx); err != nil {
			return err
		}
	}

	identity, err := c.CreateAccount(cCtx.Context, recovery.Registration{
		Username:       cCtx.String(flagUsername.Name),
		Email:          cCtx.String(flagEmail.Name),
		CredentialHash: cCtx.String(flagCredentialHash.Name),
		PublicKey:      string(pub),
		PrivateKeyBlob: blob,
		Shares:         shares,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	return printJSON(identity)
}

func requestTrust(cCtx *cli.Context) error {
	c, err := newClient(cCtx)
	if err != nil {
		return err
	}
	var share []byte
	if encoded := cCtx.String(flagBackupShare.Name); encoded != "" {
		if share, err = base64.StdEncoding.DecodeString(encoded); err != nil {
			return fmt.Errorf("invalid backup share: %w", err)
		}
	}
	edge, err := c.RequestTrust(cCtx.Context, cCtx.String(flagAgent.Name), share)
	if err != nil {
		return err
	}
	return printJSON(edge)
}

func acceptTrust(cCtx *cli.Context) error {
	c, err := newClient(cCtx)
	if err != nil {
		return err
	}
	edge, err := c.AcceptTrust(cCtx.Context, cCtx.Int64(flagEdge.Name))
	if err != nil {
		return err
	}
	return printJSON(edge)
}

func eligible(cCtx *cli.Context) error {
	c, err := newClient(cCtx)
	if err != nil {
		return err
	}
	list, err := c.EligibleRecoveries(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(list)
}

func submitShare(cCtx *cli.Context) error {
	log := flags.SetupLogger(cCtx)
	c, err := newClient(cCtx)
	if err != nil {
		return err
	}
	keyPEM, err := ownKey(cCtx)
	if err != nil {
		return err
	}
	target := interfaces.AccountID(cCtx.Int64(flagTarget.Name))

	open, err := openRecoveryFor(cCtx.Context, c, target)
	if err != nil {
		return err
	}
	held, err := c.BackupShare(cCtx.Context, target)
	if err != nil {
		return fmt.Errorf("could not fetch backup share: %w", err)
	}
	share, err := cryptoutils.OpenWithPrivateKey(keyPEM, held.Payload)
	if err != nil {
		return fmt.Errorf("could not open backup share: %w", err)
	}
	resealed, err := cryptoutils.SealToPublicKey(open.ProposedPublicKey, share)
	if err != nil {
		return err
	}
	if err := c.SubmitShare(cCtx.Context, target, open.SessionID, resealed); err != nil {
		return err
	}
	log.Info("share submitted", "account", target, "sessionID", open.SessionID)
	return nil
}

func openRecoveryFor(ctx context.Context, c *clients.RecoveryClient, target interfaces.AccountID) (*interfaces.EligibleRecovery, error) {
	list, err := c.EligibleRecoveries(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range list {
		if rec.AccountToRecover != target {
			continue
		}
		if rec.AlreadySubmitted {
			return nil, fmt.Errorf("a share was already submitted for account %d", target)
		}
		return &rec, nil
	}
	return nil, fmt.Errorf("no open recovery for account %d", target)
}

func count(cCtx *cli.Context) error {
	c, err := newClient(cCtx)
	if err != nil {
		return err
	}
	n, err := c.SubmissionCount(cCtx.Context, interfaces.AccountID(cCtx.Int64(flagTarget.Name)))
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func commit(cCtx *cli.Context) error {
	c, err := newClient(cCtx)
	if err != nil {
		return err
	}
	target := interfaces.AccountID(cCtx.Int64(flagTarget.Name))
	sessionID := cCtx.String(flagSession.Name)

	q, err := c.Quorum(cCtx.Context, target)
	if err != nil {
		return err
	}
	if !q.Met() {
		return fmt.Errorf("quorum not met: %d of %d agents submitted", q.Count, q.Threshold)
	}
	subs, err := c.Submissions(cCtx.Context, target)
	if err != nil {
		return err
	}

	seen := make(map[interfaces.AccountID]bool)
	var chosen [][]byte
	for _, sub := range subs {
		if sub.SessionID != sessionID || seen[sub.GivenBy] {
			continue
		}
		seen[sub.GivenBy] = true
		chosen = append(chosen, sub.Payload)
		if len(chosen) == q.Threshold {
			break
		}
	}

	if path := cCtx.String(flagVerifyKey.Name); path != "" {
		keyPEM, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		r := sharing.NewRecoverer(q.Threshold)
		for _, s := range chosen {
			if _, err := r.AddSealed(keyPEM, s); err != nil {
				return fmt.Errorf("submitted share does not open with the proposed key: %w", err)
			}
		}
		if r.Secret() == nil {
			return errors.New("submitted shares do not reconstruct the secret")
		}
	}

	rec, err := c.Commit(cCtx.Context, sessionID, chosen)
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func receipt(cCtx *cli.Context) error {
	log := flags.SetupLogger(cCtx)
	id, err := interfaces.NewContentIDFromHex(cCtx.String(flagID.Name))
	if err != nil {
		return err
	}

	backend, err := storage.NewStorageBackendFactory(log).CreateMultiBackend(cCtx.StringSlice(flags.ArchiveFlag.Name))
	if err != nil {
		return err
	}
	archiver, err := storage.NewArchiver(backend, nil, log)
	if err != nil {
		return err
	}

	var identities []age.Identity
	if path := cCtx.String(flagIdentity.Name); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if identities, err = age.ParseIdentities(f); err != nil {
			return fmt.Errorf("could not parse identity: %w", err)
		}
	}

	var rec recovery.Receipt
	if err := archiver.Open(cCtx.Context, id, interfaces.ReceiptType, &rec, identities...); err != nil {
		return err
	}
	return printJSON(rec)
}
