// Command bgctl is the operator CLI for the bruteguard admin API.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/and161185/bruteguard/internal/convert"
	grpcserver "github.com/and161185/bruteguard/internal/server/grpc"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	Subject     string    `json:"subject"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "bruteguard")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bruteguard")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadToken(now time.Time) (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || now.After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run `bgctl token` first)")
	}
	return tf.AccessToken, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

type dialOptions struct {
	addr      string
	caPath    string
	insecure  bool // TLS without verification
	plaintext bool // no TLS at all
}

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // -insecure is dev only
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dial(o dialOptions, bearer string, extra ...grpc.DialOption) (*grpc.ClientConn, *grpcserver.Client, error) {
	var creds credentials.TransportCredentials
	if o.plaintext {
		creds = insecure.NewCredentials()
	} else {
		c, err := loadTLS(o.caPath, o.insecure)
		if err != nil {
			return nil, nil, err
		}
		creds = c
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, secure: !o.plaintext}))
	}
	opts = append(opts, extra...)
	cc, err := grpc.NewClient(o.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewClient(cc), nil
}

// ---- commands ----

type statusView struct {
	Key          string  `json:"key"`
	Attempts     int     `json:"attempts"`
	Blocked      bool    `json:"blocked"`
	BlockedUntil *string `json:"blocked_until"`
}

func cmdStatus(ctx context.Context, cl *grpcserver.Client, key string, out io.Writer) error {
	raw, err := cl.GetStatus(ctx, key)
	if err != nil {
		return err
	}
	st, err := convert.StatusFromStruct(raw)
	if err != nil {
		return err
	}
	v := statusView{Key: st.Key, Attempts: st.Attempts, Blocked: st.Blocked}
	if st.BlockedUntil != nil {
		s := st.BlockedUntil.UTC().Format(time.RFC3339)
		v.BlockedUntil = &s
	}
	return printJSON(out, v)
}

func cmdReset(ctx context.Context, cl *grpcserver.Client, key string, out io.Writer) error {
	existed, err := cl.Reset(ctx, key)
	if err != nil {
		return err
	}
	if existed {
		_, err = fmt.Fprintln(out, "reset")
	} else {
		_, err = fmt.Fprintln(out, "no record")
	}
	return err
}

func cmdToken(signKey, sub string, ttl time.Duration, now time.Time) error {
	tok, err := grpcserver.IssueToken([]byte(signKey), sub, ttl, now)
	if err != nil {
		return err
	}
	return saveToken(tokenFile{AccessToken: tok, Subject: sub, ExpiresAt: now.Add(ttl)})
}

// ---- utils ----

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(err error) {
	if st, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", st.Code(), st.Message())
	} else {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(1)
}

func usage() {
	fmt.Fprintf(os.Stderr, `bgctl CLI
Usage:
  bgctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  token   -key <signing key> [-sub name] [-ttl 1h]   (saves token; key defaults to $BG_ADMIN_JWT_KEY)
  status  <client key>
  reset   <client key>
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	var o dialOptions
	flag.StringVar(&o.addr, "addr", "localhost:9090", "admin server addr")
	flag.StringVar(&o.caPath, "cacert", "", "CA cert (PEM)")
	flag.BoolVar(&o.insecure, "insecure", false, "skip cert verify (dev)")
	flag.BoolVar(&o.plaintext, "plaintext", false, "no TLS (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("bgctl %s (%s)\n", version, buildDate)

	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		key := fs.String("key", os.Getenv("BG_ADMIN_JWT_KEY"), "HS256 signing key")
		sub := fs.String("sub", "", "subject recorded in server logs (default $USER)")
		ttl := fs.Duration("ttl", time.Hour, "token lifetime")
		_ = fs.Parse(flag.Args()[1:])
		if *sub == "" {
			*sub = os.Getenv("USER")
		}
		if err := cmdToken(*key, *sub, *ttl, time.Now()); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "status", "reset":
		if flag.NArg() != 2 {
			fmt.Fprintf(os.Stderr, "usage: bgctl %s <client key>\n", cmd)
			os.Exit(1)
		}
		key := flag.Arg(1)

		token, err := loadToken(time.Now())
		if err != nil {
			fail(err)
		}
		cc, cli, err := dial(o, token)
		if err != nil {
			fail(err)
		}
		defer cc.Close()

		if cmd == "status" {
			err = cmdStatus(ctx, cli, key, os.Stdout)
		} else {
			err = cmdReset(ctx, cli, key, os.Stdout)
		}
		if err != nil {
			fail(err)
		}

	default:
		usage()
	}
}
