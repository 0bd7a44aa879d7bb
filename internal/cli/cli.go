// Package cli implements the iptoasn command: annotate text with AS
// information from a local copy of the dataset, or query a running
// webservice.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"iptoasn/internal/annotate"
	"iptoasn/internal/app/version"
	"iptoasn/internal/asn"
	"iptoasn/internal/auth"
	"iptoasn/internal/client"
	"iptoasn/internal/config"
	"iptoasn/internal/loader"
	"iptoasn/internal/support"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

// exitError ends the command with code. A nil err means the message has
// already been printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

type rootOptions struct {
	server string
	json   bool

	dbURL        string
	cacheFile    string
	input        string
	description  bool
	lineBuffered bool
	markers      string
	separator    string
}

// Execute runs the command line and returns the process exit code.
func Execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	log.SetOutput(stderr)
	support.ConfigureLogging()

	root := newRootCommand(streams{in: stdin, out: stdout, err: stderr})
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			log.Error(exit.err.Error())
		}
		return exit.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitUsage
}

func newRootCommand(s streams) *cobra.Command {
	opts := &rootOptions{}
	defaults := annotate.DefaultOptions()

	root := &cobra.Command{
		Use:           "iptoasn",
		Short:         "Annotate IP addresses with ASN info using an in-memory database",
		Long:          "Annotate IP addresses with ASN info using an in-memory database. Subcommands query the iptoasn webservice.",
		Version:       version.BuildVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnnotate(cmd.Context(), s, opts)
		},
	}

	persistent := root.PersistentFlags()
	persistent.StringVar(&opts.server, "server", support.GetEnv("IPTOASN_SERVER_URL", client.DefaultServerURL), "base URL of the iptoasn webservice [env: IPTOASN_SERVER_URL]")
	persistent.BoolVarP(&opts.json, "json", "j", false, "ask the webservice for JSON (Accept: application/json)")

	local := root.Flags()
	local.StringVarP(&opts.dbURL, "dburl", "u", support.GetEnv("IPTOASN_DB_URL", config.DefaultConfig().Dataset.URL), "URL to download the in-memory database [env: IPTOASN_DB_URL]")
	local.StringVarP(&opts.cacheFile, "cache-file", "c", "", "path of the dataset cache file (default $XDG_CACHE_HOME/iptoasn/ip2asn-combined.tsv.gz)")
	local.StringVarP(&opts.input, "input", "i", "", "input file (default stdin)")
	local.BoolVarP(&opts.description, "description", "d", false, "include the AS description in annotations")
	local.BoolVarP(&opts.lineBuffered, "line-buffered", "l", false, "flush each output line immediately when reading stdin")
	local.StringVarP(&opts.markers, "as-markers", "m", defaults.Open+defaults.Close, "two characters opening and closing the AS info, e.g. [] or <>")
	local.StringVarP(&opts.separator, "as-sep", "s", defaults.Separator, "delimiter between AS info fields")

	root.AddCommand(
		newIPCommand(s, opts),
		newIPsCommand(s, opts),
		newASNCommand(s, opts),
		newASNsCommand(s, opts),
		newStatusCommand(s, opts),
		newReloadCommand(s, opts),
	)
	return root
}

func runAnnotate(ctx context.Context, s streams, opts *rootOptions) error {
	open, closing, err := annotate.ParseMarkers(opts.markers)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	snap, err := loadSnapshot(ctx, opts)
	if err != nil {
		log.Error("Failed to load initial database", "error", err)
		return &exitError{code: exitFailure, err: errors.New("application cannot start without initial data")}
	}

	in := s.in
	fromStdin := opts.input == ""
	if !fromStdin {
		file, err := os.Open(opts.input)
		if err != nil {
			return &exitError{code: exitFailure, err: fmt.Errorf("failed to open input file %s: %w", opts.input, err)}
		}
		defer file.Close()
		in = file
	}

	annotator := annotate.New(snap, annotate.Options{
		Open:        open,
		Close:       closing,
		Separator:   opts.separator,
		Description: opts.description,
	})
	if err := annotator.Run(in, s.out, opts.lineBuffered && fromStdin); err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	return nil
}

func loadSnapshot(ctx context.Context, opts *rootOptions) (*asn.Snapshot, error) {
	ld, err := loader.New(loader.Options{URL: opts.dbURL, CacheFile: opts.cacheFile})
	if err != nil {
		return nil, err
	}

	log.Info("Retrieving ASNs")
	result, err := ld.Load(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := asn.Parse(result.Data, result.Origin)
	if err != nil {
		return nil, err
	}
	log.Info("ASNs loaded", "records", snap.Len())
	return snap, nil
}

func newClient(opts *rootOptions) *client.Client {
	return client.New(opts.server, opts.json, nil)
}

// printResult writes a webservice answer, or turns a failed request into
// exit status 1 with the server's body on stderr.
func printResult(s streams, body string, err error) error {
	if err != nil {
		var statusErr *client.StatusError
		if errors.As(err, &statusErr) {
			fmt.Fprint(s.err, client.WithTrailingNewline(statusErr.Body))
			return &exitError{code: exitFailure}
		}
		fmt.Fprintln(s.err, err)
		return &exitError{code: exitFailure}
	}
	fmt.Fprint(s.out, client.WithTrailingNewline(body))
	return nil
}

func newIPCommand(s streams, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ip [addr]",
		Short: "Look up an IP address via the webservice; without an address the requester's own",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := ""
			if len(args) == 1 {
				addr = args[0]
			}
			body, err := newClient(opts).LookupIP(cmd.Context(), addr)
			return printResult(s, body, err)
		},
	}
}

func newIPsCommand(s streams, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ips [file]",
		Short: "Bulk IP lookup via the webservice; reads addresses from file or stdin as text or JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
				if err != nil {
					return &exitError{code: exitUsage, err: fmt.Errorf("failed to read file %s: %w", args[0], err)}
				}
			} else {
				data, err = io.ReadAll(s.in)
				if err != nil {
					return &exitError{code: exitUsage, err: fmt.Errorf("failed to read stdin: %w", err)}
				}
			}
			body, err := newClient(opts).LookupIPs(cmd.Context(), data)
			return printResult(s, body, err)
		},
	}
}

func newASNCommand(s streams, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asn <AS123|123>",
		Short: "Look up an AS number via the webservice",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(s.err, "Missing AS number. Usage: iptoasn asn <AS123|123> or iptoasn asn subnets <AS123|123>")
				return &exitError{code: exitUsage}
			}
			body, err := newClient(opts).AS(cmd.Context(), args[0])
			return printResult(s, body, err)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "subnets <AS123|123>",
		Short: "List the subnets announced by an AS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := newClient(opts).ASSubnets(cmd.Context(), args[0])
			return printResult(s, body, err)
		},
	})
	return cmd
}

func newASNsCommand(s streams, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "asns",
		Short: "List all AS numbers via the webservice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(opts).ASList(cmd.Context())
			return printResult(s, body, err)
		},
	}
}

func newStatusCommand(s streams, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what dataset the webservice is serving",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := newClient(opts).Status(cmd.Context())
			return printResult(s, body, err)
		},
	}
}

func newReloadCommand(s streams, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make the webservice refetch its dataset (needs IPTOASN_ADMIN_SECRET)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := auth.GenerateAdminToken(support.GetEnv("IPTOASN_ADMIN_SECRET", ""), time.Minute)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			body, err := newClient(opts).Reload(cmd.Context(), token)
			return printResult(s, body, err)
		},
	}
}
