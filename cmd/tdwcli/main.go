package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bluesky-social/indigo/atproto/atcrypto"
	"github.com/multiformats/go-multibase"

	didtdw "github.com/did-method-tdw/go-didtdw"
	"github.com/urfave/cli/v3"
)

const TDWCLI_USER_AGENT = "go-didtdw/tdwcli"

func main() {
	app := cli.Command{
		Name:  "tdwcli",
		Usage: "simple CLI client tool for did:tdw logs",
	}
	app.Commands = []*cli.Command{
		{
			Name:      "resolve",
			Usage:     "fetch, verify, and resolve a DID from its web location",
			ArgsUsage: "<did>",
			Action:    runResolve,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "version-id",
					Usage: "resolve a specific versionId instead of the latest",
				},
				&cli.Int64Flag{
					Name:  "version-number",
					Usage: "resolve a specific version number instead of the latest",
				},
				&cli.StringFlag{
					Name:  "version-time",
					Usage: "resolve the state as of an RFC 3339 instant",
				},
				&cli.BoolFlag{
					Name:  "metadata",
					Usage: "print resolution metadata instead of the document",
				},
			},
		},
		{
			Name:      "log",
			Usage:     "fetch the raw did.jsonl log for a DID",
			ArgsUsage: "<did>",
			Action:    runLog,
		},
		{
			Name:      "verify",
			Usage:     "verify a did.jsonl log read from stdin (or fetched for a DID)",
			ArgsUsage: "[did]",
			Action:    runVerify,
		},
		{
			Name:   "keygen",
			Usage:  "generate a fresh private key, printed to stdout as a multibase string",
			Action: runKeyGen,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "type",
					Usage: "key type; one of 'ed25519', 'K-256' or 'P-256'",
					Value: "ed25519",
				},
			},
		},
		{
			Name:      "hash-key",
			Usage:     "compute the pre-rotation commitment hash for a public multikey",
			ArgsUsage: "<multikey>",
			Action:    runHashKey,
		},
		{
			Name:      "create",
			Usage:     "create and sign a genesis log entry for a new DID",
			ArgsUsage: "<domain>",
			Action:    runCreate,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "private-key",
					Usage:   "ed25519 private key seed as a multibase string (generated if empty)",
					Sources: cli.EnvVars("TDW_PRIVATE_KEY"),
				},
			},
		},
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(h))
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Println("Error:", err)
		os.Exit(-1)
	}
}

func runResolve(ctx context.Context, cmd *cli.Command) error {
	s := cmd.Args().First()
	if s == "" {
		return fmt.Errorf("need to provide DID as an argument")
	}

	opts := didtdw.ResolveOptions{
		VersionID:     cmd.String("version-id"),
		VersionNumber: cmd.Int64("version-number"),
	}
	if vt := cmd.String("version-time"); vt != "" {
		t, err := time.Parse(time.RFC3339, vt)
		if err != nil {
			return fmt.Errorf("invalid version-time: %w", err)
		}
		opts.VersionTime = t
	}

	c := didtdw.Client{UserAgent: TDWCLI_USER_AGENT}
	st, err := c.Resolve(ctx, s, &opts)
	if err != nil {
		return err
	}

	var out interface{} = json.RawMessage(st.Document)
	if cmd.Bool("metadata") {
		out = st.Metadata()
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func runLog(ctx context.Context, cmd *cli.Command) error {
	s := cmd.Args().First()
	if s == "" {
		return fmt.Errorf("need to provide DID as an argument")
	}
	did, err := didtdw.ParseDID(s)
	if err != nil {
		return err
	}

	c := didtdw.Client{UserAgent: TDWCLI_USER_AGENT}
	entries, err := c.FetchLog(ctx, did)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func runVerify(ctx context.Context, cmd *cli.Command) error {
	var entries []didtdw.LogEntry
	var err error

	if s := cmd.Args().First(); s != "" {
		did, err := didtdw.ParseDID(s)
		if err != nil {
			return err
		}
		c := didtdw.Client{UserAgent: TDWCLI_USER_AGENT}
		entries, err = c.FetchLog(ctx, did)
		if err != nil {
			return err
		}
	} else {
		entries, err = didtdw.ParseLog(os.Stdin)
		if err != nil {
			return err
		}
	}

	st, err := didtdw.Resolve(entries, nil)
	if err != nil {
		if st != nil {
			fmt.Printf("invalid after version %d (%s): %v\n", st.VersionNumber, st.VersionID, err)
		}
		return err
	}
	fmt.Printf("valid: %s at version %d (%s)\n", st.DID, st.VersionNumber, st.VersionID)
	return nil
}

func runKeyGen(ctx context.Context, cmd *cli.Command) error {
	switch cmd.String("type") {
	case "ed25519":
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		// the 32-byte seed is the portable form of an ed25519 private key
		mb, err := multibase.Encode(multibase.Base58BTC, priv.Seed())
		if err != nil {
			return err
		}
		fmt.Println(mb)
	case "K-256":
		privkey, err := atcrypto.GeneratePrivateKeyK256()
		if err != nil {
			return err
		}
		fmt.Println(privkey.Multibase())
	case "P-256":
		privkey, err := atcrypto.GeneratePrivateKeyP256()
		if err != nil {
			return err
		}
		fmt.Println(privkey.Multibase())
	default:
		return fmt.Errorf("unsupported key type: %s", cmd.String("type"))
	}
	return nil
}

func runHashKey(ctx context.Context, cmd *cli.Command) error {
	mk := cmd.Args().First()
	if mk == "" {
		return fmt.Errorf("need to provide a multikey as an argument")
	}
	kh, err := didtdw.DefaultHasher.HashKey(mk)
	if err != nil {
		return err
	}
	fmt.Println(kh)
	return nil
}

func runCreate(ctx context.Context, cmd *cli.Command) error {
	domain := cmd.Args().First()
	if domain == "" {
		return fmt.Errorf("need to provide a domain as an argument")
	}

	var signer *didtdw.Ed25519Signer
	if mb := cmd.String("private-key"); mb != "" {
		_, seed, err := multibase.Decode(mb)
		if err != nil {
			return fmt.Errorf("decoding private key: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return fmt.Errorf("ed25519 seed must be %d bytes", ed25519.SeedSize)
		}
		signer = didtdw.NewEd25519Signer(ed25519.NewKeyFromSeed(seed))
	} else {
		var err error
		signer, err = didtdw.GenerateEd25519Signer()
		if err != nil {
			return err
		}
		slog.Info("generated new signing key", "multikey", signer.Multikey())
	}

	doc := fmt.Sprintf(`{"id":"did:tdw:%s:%s"}`, didtdw.SCIDPlaceholder, domain)
	entry, err := didtdw.NewGenesisEntry(signer, didtdw.Parameters{Method: "did:tdw:0.4"},
		didtdw.FullState(json.RawMessage(doc)), time.Now())
	if err != nil {
		return err
	}

	slog.Info("created DID", "did", fmt.Sprintf("did:tdw:%s:%s", entry.Parameters.SCID, domain))
	return json.NewEncoder(os.Stdout).Encode(entry)
}
