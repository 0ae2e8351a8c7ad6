// Command peersync is the operator tool: register scope definitions,
// generate root certificates, request certificates from a remote peer,
// and run a sync session handshake.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"peersync.dev/peersync/cert"
	"peersync.dev/peersync/profile"
	"peersync.dev/peersync/scope"
	"peersync.dev/peersync/store/sqlitestore"
	"peersync.dev/peersync/transport/syncgrpc"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "definition":
		return cmdDefinition(args[1:], out, errOut)
	case "init-root":
		return cmdInitRoot(args[1:], out, errOut)
	case "certs":
		return cmdCerts(args[1:], out, errOut)
	case "csr":
		return cmdCSR(args[1:], out, errOut)
	case "sync":
		return cmdSync(args[1:], out, errOut)
	case "export-key":
		return cmdExportKey(args[1:], out, errOut)
	case "import-key":
		return cmdImportKey(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "peersync: operator tool for peersync nodes")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  peersync definition --db <path> --id <id> [--version N] [--primary <key>] [--read <tpl>] [--write <tpl>] [--read-write <tpl>]")
	fmt.Fprintln(w, "  peersync init-root --db <path> --definition <id>")
	fmt.Fprintln(w, "  peersync certs --db <path> [--own]")
	fmt.Fprintln(w, "  peersync csr --db <path> --target <host:port> --parent <cert-id> --definition <id> --param k=v [--param ...]")
	fmt.Fprintln(w, "  peersync sync --db <path> --target <host:port> --local-cert <id> --remote-cert <id>")
	fmt.Fprintln(w, "  peersync export-key --db <path> --cert <id> --passphrase <pw> [--out <file>]")
	fmt.Fprintln(w, "  peersync import-key --db <path> --passphrase <pw> <file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - all commands operate on one profile (default facilitydata)")
	fmt.Fprintln(w, "  - csr and sync talk to a running peersyncd")
	fmt.Fprintln(w, "  - export-key/import-key move a certificate identity between devices")
}

type commonFlags struct {
	db      string
	profile string
}

func (c *commonFlags) add(fs *flag.FlagSet) {
	fs.StringVar(&c.db, "db", "peersync.db", "SQLite store path")
	fs.StringVar(&c.profile, "profile", "facilitydata", "sync profile")
}

func (c *commonFlags) open(errOut io.Writer) (*profile.Controller, func() error, bool) {
	st, err := sqlitestore.Open(c.db)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return nil, nil, false
	}
	ctrl := profile.NewController(c.profile, st, zerolog.Nop())
	return ctrl, st.Close, true
}

func cmdDefinition(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("definition", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)

	var def scope.Definition
	fs.StringVar(&def.ID, "id", "", "definition id")
	fs.IntVar(&def.Version, "version", 1, "definition version")
	fs.StringVar(&def.PrimaryScopeParamKey, "primary", "", "primary scope param key")
	fs.StringVar(&def.Description, "description", "", "free-form description")
	fs.StringVar(&def.ReadFilterTemplate, "read", "", "read filter template")
	fs.StringVar(&def.WriteFilterTemplate, "write", "", "write filter template")
	fs.StringVar(&def.ReadWriteFilterTemplate, "read-write", "", "read-write filter template")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if def.ID == "" {
		fmt.Fprintln(errOut, "missing --id")
		return 2
	}
	def.Profile = common.profile

	ctrl, closeFn, ok := common.open(errOut)
	if !ok {
		return 1
	}
	defer closeFn()

	if err := ctrl.Store().UpsertScopeDefinition(context.Background(), &def); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "%s@%d\n", def.ID, def.Version)
	return 0
}

func cmdInitRoot(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("init-root", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)
	var definitionID string
	fs.StringVar(&definitionID, "definition", "", "scope definition id for the root")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if definitionID == "" {
		fmt.Fprintln(errOut, "missing --definition")
		return 2
	}

	ctrl, closeFn, ok := common.open(errOut)
	if !ok {
		return 1
	}
	defer closeFn()

	root, err := ctrl.GenerateRootCertificate(context.Background(), definitionID)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, root.ID)
	return 0
}

func cmdCerts(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("certs", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)
	var ownOnly bool
	fs.BoolVar(&ownOnly, "own", false, "only certificates with a locally held private key")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctrl, closeFn, ok := common.open(errOut)
	if !ok {
		return 1
	}
	defer closeFn()

	ctx := context.Background()
	var certs []*cert.Certificate
	var err error
	if ownOnly {
		certs, err = ctrl.OwnCertificates(ctx)
	} else {
		certs, err = ctrl.Store().Certificates(ctx, ctrl.Name())
	}
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	for _, c := range certs {
		marker := ""
		if c.HasPrivateKey() {
			marker = "\t(own)"
		}
		parent := c.ParentID
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(out, "%s\t%s@%d\tparent=%s%s\n", c.ID, c.ScopeDefinitionID, c.ScopeVersion, parent, marker)
	}
	return 0
}

func cmdCSR(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("csr", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)

	var target, parentID, definitionID string
	var params kvFlags
	fs.StringVar(&target, "target", "", "remote peersyncd address")
	fs.StringVar(&parentID, "parent", "", "parent certificate id on the remote")
	fs.StringVar(&definitionID, "definition", "", "scope definition id")
	fs.Var(&params, "param", "scope param key=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if target == "" || parentID == "" || definitionID == "" {
		fmt.Fprintln(errOut, "missing --target, --parent or --definition")
		return 2
	}

	ctrl, closeFn, ok := common.open(errOut)
	if !ok {
		return 1
	}
	defer closeFn()

	client, err := syncgrpc.Dial(target, syncgrpc.DialOptions{Timeout: 10 * time.Second})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer client.Close()

	ctx := context.Background()
	parent, err := ctrl.Store().Certificate(ctx, parentID)
	if err != nil {
		fmt.Fprintf(errOut, "parent certificate must be fetched first (peersync sync or a chain fetch): %v\n", err)
		return 1
	}

	conn := ctrl.NewConnection(client)
	child, err := conn.CertificateSigningRequest(ctx, parent, definitionID, params.m)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, child.ID)
	return 0
}

func cmdSync(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)

	var target, localID, remoteID string
	fs.StringVar(&target, "target", "", "remote peersyncd address")
	fs.StringVar(&localID, "local-cert", "", "local certificate id (private key held)")
	fs.StringVar(&remoteID, "remote-cert", "", "remote certificate id (must verify locally)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if target == "" || localID == "" || remoteID == "" {
		fmt.Fprintln(errOut, "missing --target, --local-cert or --remote-cert")
		return 2
	}

	ctrl, closeFn, ok := common.open(errOut)
	if !ok {
		return 1
	}
	defer closeFn()

	client, err := syncgrpc.Dial(target, syncgrpc.DialOptions{Timeout: 10 * time.Second})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer client.Close()

	ctx := context.Background()
	localCert, err := ctrl.Store().Certificate(ctx, localID)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	remoteCert, err := ctrl.Store().Certificate(ctx, remoteID)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	conn := ctrl.NewConnection(client)
	sess, err := conn.CreateSyncSession(ctx, localCert, remoteCert)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "session %s established, remote fsic %s\n", sess.ID, sess.RemoteFSIC)

	if err := conn.CloseSyncSession(ctx); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintf(out, "session %s closed\n", sess.ID)
	return 0
}

// exportEnvelope bundles a certificate's public record with its
// passphrase-sealed private key for offline transfer.
type exportEnvelope struct {
	Record    cert.Record `json:"record"`
	SealedKey string      `json:"sealed_key"`
}

func cmdExportKey(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("export-key", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)

	var certID, passphrase, outPath string
	fs.StringVar(&certID, "cert", "", "certificate id to export")
	fs.StringVar(&passphrase, "passphrase", "", "passphrase sealing the private key")
	fs.StringVar(&outPath, "out", "", "output file (optional; default stdout)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if certID == "" || passphrase == "" {
		fmt.Fprintln(errOut, "missing --cert or --passphrase")
		return 2
	}

	ctrl, closeFn, ok := common.open(errOut)
	if !ok {
		return 1
	}
	defer closeFn()

	crt, err := ctrl.Store().Certificate(context.Background(), certID)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	key := crt.PrivateKey()
	if key == nil {
		fmt.Fprintln(errOut, "certificate has no locally held private key")
		return 1
	}
	sealed, err := cert.SealPrivateKey(key, []byte(passphrase))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	b, err := json.MarshalIndent(exportEnvelope{Record: crt.WireRecord(), SealedKey: sealed}, "", "  ")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if outPath == "" {
		_, _ = out.Write(append(b, '\n'))
		return 0
	}
	if err := os.WriteFile(outPath, b, 0o600); err != nil {
		fmt.Fprintf(errOut, "write %s: %v\n", outPath, err)
		return 1
	}
	return 0
}

func cmdImportKey(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("import-key", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)

	var passphrase string
	fs.StringVar(&passphrase, "passphrase", "", "passphrase the key was sealed under")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if passphrase == "" || fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: peersync import-key [common flags] --passphrase <pw> <file>")
		return 2
	}

	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	var env exportEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	crt, err := cert.FromRecord(env.Record)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	key, err := cert.OpenPrivateKey(env.SealedKey, []byte(passphrase))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if err := crt.AttachPrivateKey(key); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	ctrl, closeFn, ok := common.open(errOut)
	if !ok {
		return 1
	}
	defer closeFn()

	if err := ctrl.Store().UpsertCertificate(context.Background(), crt); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, crt.ID)
	return 0
}

type kvFlags struct{ m map[string]string }

func (k *kvFlags) String() string {
	var parts []string
	for key, v := range k.m {
		parts = append(parts, key+"="+v)
	}
	return strings.Join(parts, ",")
}

func (k *kvFlags) Set(v string) error {
	key, val, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return errors.New("expected key=value")
	}
	if k.m == nil {
		k.m = make(map[string]string)
	}
	k.m[strings.TrimSpace(key)] = val
	return nil
}
