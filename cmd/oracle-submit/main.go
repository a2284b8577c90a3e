package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AIAleph/oracle_submit/internal/api"
	"github.com/AIAleph/oracle_submit/internal/audit"
	"github.com/AIAleph/oracle_submit/internal/config"
	"github.com/AIAleph/oracle_submit/internal/content"
	"github.com/AIAleph/oracle_submit/internal/diagnose"
	"github.com/AIAleph/oracle_submit/internal/endpoint"
	"github.com/AIAleph/oracle_submit/internal/ledger"
	"github.com/AIAleph/oracle_submit/internal/logging"
	"github.com/AIAleph/oracle_submit/internal/oracle"
	"github.com/AIAleph/oracle_submit/internal/submit"
)

// workflow is the slice of *oracle.Workflow the commands use.
type workflow interface {
	Run(ctx context.Context, in oracle.Input) (oracle.Result, error)
	Record(ctx context.Context, id uint64) (ledger.Record, error)
	Recent(ctx context.Context, n int) ([]ledger.Record, error)
	Approvals(ctx context.Context, id uint64) (ledger.Approval, error)
	Vote(ctx context.Context, id uint64, voter common.Address) (ledger.Vote, error)
	Governance(ctx context.Context) (ledger.Governance, error)
	Survey(ctx context.Context) []endpoint.ProbeResult
}

var (
	// version is set via -ldflags "-X main.version=..."
	version = "dev"
	// exit is aliased to os.Exit to allow overriding in tests.
	exit = os.Exit
	// function variables allow tests to inject stubs
	newWorkflow = defaultNewWorkflow
	loadDotEnv  = func() { _ = godotenv.Load() }
)

const auditSetupTimeout = 5 * time.Second

func defaultNewWorkflow(ctx context.Context, cfg config.Config, opts oracle.Options) (workflow, error) {
	actx, cancel := context.WithTimeout(ctx, auditSetupTimeout)
	defer cancel()
	j, err := audit.Open(actx, cfg.ClickHouseDSN, cfg.AuditTable, nil)
	if err != nil {
		// the journal never blocks a submission
		logging.Component("cli").Warn("audit_disabled", "dsn", config.RedactDSN(cfg.ClickHouseDSN), "error", err.Error())
		j = audit.Nop{}
	}
	return oracle.New(opts, oracle.WithJournal(j))
}

func main() {
	loadDotEnv()
	// .env may set LOG_LEVEL/LOG_FORMAT after the package default was built
	logging.SetLogger(logging.New(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exit(code)
}

// cli carries per-invocation state shared by the commands.
type cli struct {
	ctx    context.Context
	stdout io.Writer
	stderr io.Writer
	code   int
}

// errSilent marks failures whose output was already written.
var errSilent = errors.New("silent")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{ctx: ctx, stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			c.diagnosis(kindOf(err))
		}
		if c.code == 0 {
			c.code = 1
		}
	}
	return c.code
}

func kindOf(err error) diagnose.Kind {
	if errors.Is(err, endpoint.ErrNoEndpointAvailable) {
		return diagnose.NetworkTimeout
	}
	return diagnose.Classify(err)
}

// inputArgs marks argument count failures as input errors.
func inputArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return diagnose.MarkInvalid(check(cmd, args))
	}
}

func (c *cli) rootCmd() *cobra.Command {
	var wait, dryRun bool
	root := &cobra.Command{
		Use:   "oracle-submit <contentRef> <confidenceScore>",
		Short: "Submit a prediction record to the multisig contract over the first live RPC endpoint",
		Long: `Submits submitPrediction(contentRef, confidenceScore) to SMART_CONTRACT_ADDRESS.

Without ORACLE_PRIVATE_KEY the submission is simulated and nothing is sent.

Environment variables (defaults):
  SMART_CONTRACT_ADDRESS  target contract (required)
  ORACLE_PRIVATE_KEY      signing key (optional; absent = simulation)
  ORACLE_ADDRESS          expected signer (optional; mismatch warns)
  RPC_URL                 replaces the rank 2 built-in endpoint
  RPC_ENDPOINTS_FILE      YAML endpoint list replacing the built-in list
  PROBE_TIMEOUT           per-probe timeout (10s)
  PARALLEL_WIDTH          endpoints probed in parallel (3)
  FEE_MARGIN_PERCENT      gas price margin (20)
  MAX_GAS_PRICE_GWEI      gas price ceiling (100)
  SUBMIT_TIMEOUT          submission timeout (20s)
  WAIT_CONFIRMATION       wait for the receipt (false)`,
		Args:          inputArgs(cobra.ExactArgs(2)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.submit(args[0], args[1], wait, dryRun)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return diagnose.MarkInvalid(err) })
	root.Flags().BoolVar(&wait, "wait", false, "wait for the transaction receipt after acceptance")
	root.Flags().BoolVar(&dryRun, "dry-run", false, "print the resolved plan and exit without network access")
	root.AddCommand(c.probeCmd(), c.recordCmd(), c.recentCmd(), c.approvalsCmd(), c.governanceCmd(), c.serveCmd(), c.versionCmd())
	return root
}

func (c *cli) println(a ...any) { fmt.Fprintln(c.stdout, a...) }

func (c *cli) printf(format string, a ...any) { fmt.Fprintf(c.stdout, format, a...) }

func (c *cli) eprintf(format string, a ...any) { fmt.Fprintf(c.stderr, format, a...) }

// setup loads and validates configuration and builds the workflow.
func (c *cli) setup() (config.Config, oracle.Options, workflow, error) {
	cfg := config.Load()
	opts, err := oracle.OptionsFromConfig(cfg)
	if err != nil {
		return cfg, oracle.Options{}, nil, diagnose.MarkInvalid(err)
	}
	wf, err := newWorkflow(c.ctx, cfg, opts)
	if err != nil {
		return cfg, opts, nil, err
	}
	return cfg, opts, wf, nil
}

func (c *cli) submit(ref, scoreArg string, wait, dryRun bool) error {
	score, err := strconv.Atoi(strings.TrimSpace(scoreArg))
	if err != nil {
		return diagnose.MarkInvalid(fmt.Errorf("confidence score must be an integer between %d and %d", oracle.MinScore, oracle.MaxScore))
	}
	in := oracle.Input{ContentRef: ref, Score: score, Wait: wait}
	if err := oracle.Validate(in); err != nil {
		return err
	}
	cfg := config.Load()
	opts, err := oracle.OptionsFromConfig(cfg)
	if err != nil {
		return diagnose.MarkInvalid(err)
	}
	if dryRun {
		opts.WaitForConfirmation = opts.WaitForConfirmation || wait
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"plan":            opts.Plan(),
			"contentRef":      strings.TrimSpace(ref),
			"confidenceScore": score,
			"simulation":      cfg.PrivateKey == "",
		})
	}
	wf, err := newWorkflow(c.ctx, cfg, opts)
	if err != nil {
		return err
	}
	in.PrivateKey = cfg.PrivateKey

	c.println("Submitting prediction to contract:")
	c.printf("- Network: chain id %d\n", cfg.ChainID)
	c.printf("- Smart Contract: %s\n", opts.Contract.Hex())
	if opts.ExpectedSigner != nil {
		c.printf("- Oracle Address: %s\n", opts.ExpectedSigner.Hex())
	}
	c.printf("- IPFS Hash: %s\n", strings.TrimSpace(ref))
	c.printf("- Confidence Score: %d\n", score)
	if in.PrivateKey == "" {
		c.println("No private key found in environment variables. Simulating submission...")
	}

	res, err := wf.Run(c.ctx, in)
	if err != nil {
		return err
	}
	c.report(res)
	if !res.OK() {
		return errSilent
	}
	return nil
}

func (c *cli) report(res oracle.Result) {
	for _, w := range res.Warnings {
		c.eprintf("WARNING: %s\n", w)
	}
	out := res.Outcome
	if out.Simulated {
		c.println("SUCCESS: Prediction data submitted to contract (SIMULATION)")
		return
	}
	var rpc string
	if res.Endpoint != nil {
		rpc = config.RedactURL(res.Endpoint.URL)
	}
	switch out.Status {
	case submit.Accepted:
		if res.Confirmation != nil && !res.Confirmation.Succeeded {
			c.eprintf("ERROR: transaction %s reverted in block %d\n", out.TrackingID, res.Confirmation.BlockNumber)
			c.diagnosis(res.Kind)
			return
		}
		c.printf("SUCCESS: Transaction submitted: %s\n", out.TrackingID)
		c.printf("Using RPC: %s\n", rpc)
		if res.ExplorerURL != "" {
			c.printf("View on explorer: %s\n", res.ExplorerURL)
		}
		if res.Confirmation != nil {
			c.printf("Confirmed in block %d (gas used %d)\n", res.Confirmation.BlockNumber, res.Confirmation.GasUsed)
		}
		if res.RecordID != nil {
			c.printf("Prediction submitted with ID: %d\n", *res.RecordID)
		}
	case submit.TimedOut:
		c.eprintf("ERROR: submission timed out; outcome unknown (%s)\n", out.Reason)
		if out.TrackingID != "" {
			c.eprintf("Tracking id: %s\n", out.TrackingID)
			c.eprintf("View on explorer: %s\n", res.ExplorerURL)
		}
		if rpc != "" {
			c.eprintf("Using RPC: %s\n", rpc)
		}
		c.diagnosis(res.Kind)
	case submit.NoEndpointAvailable:
		c.eprintf("ERROR: Could not connect to any RPC endpoint: %s\n", out.Reason)
		c.eprintf("diagnosis: %s\n", diagnose.NetworkTimeout)
		c.eprintf("  All RPC endpoints are unavailable; retry later or set RPC_URL to a reachable node\n")
	default:
		c.eprintf("ERROR: Failed to submit to contract: %s\n", out.Reason)
		if out.TrackingID != "" {
			c.eprintf("Tracking id: %s\n", out.TrackingID)
		}
		c.diagnosis(res.Kind)
	}
}

func (c *cli) diagnosis(k diagnose.Kind) {
	c.eprintf("diagnosis: %s\n", k)
	for _, g := range diagnose.Guidance(k) {
		c.eprintf("  %s\n", g)
	}
}

func (c *cli) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe every configured endpoint and print a health table",
		Args:  inputArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, wf, err := c.setup()
			if err != nil {
				return err
			}
			results := wf.Survey(c.ctx)
			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tENDPOINT\tSTATUS\tHEIGHT\tLATENCY\tERROR")
			live := 0
			for _, r := range results {
				status, height, errText := r.Outcome.String(), "-", ""
				if r.Outcome == endpoint.Live {
					live++
					height = strconv.FormatUint(r.Height, 10)
				} else if r.Err != nil {
					errText = r.Err.Error()
				}
				if r.Timeout() {
					status = "timeout"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.Descriptor.Rank, config.RedactURL(r.Descriptor.URL),
					status, height, r.Latency.Round(time.Millisecond), errText)
			}
			_ = tw.Flush()
			c.printf("%d/%d endpoints live\n", live, len(results))
			if live == 0 {
				return fmt.Errorf("%w: all %d endpoints failed", endpoint.ErrNoEndpointAvailable, len(results))
			}
			return nil
		},
	}
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, diagnose.MarkInvalid(fmt.Errorf("record id must be a non-negative integer: %q", s))
	}
	return id, nil
}

func (c *cli) recordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <id>",
		Short: "Print one prediction record",
		Args:  inputArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			_, _, wf, err := c.setup()
			if err != nil {
				return err
			}
			rec, err := wf.Record(c.ctx, id)
			if err != nil {
				return err
			}
			return c.printJSON(rec)
		},
	}
}

func (c *cli) recentCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Print the newest prediction records",
		Args:  inputArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return diagnose.MarkInvalid(errors.New("--count must be >= 1"))
			}
			_, _, wf, err := c.setup()
			if err != nil {
				return err
			}
			recs, err := wf.Recent(c.ctx, count)
			if err != nil && len(recs) == 0 {
				return err
			}
			if err != nil {
				c.eprintf("WARNING: %v\n", err)
			}
			if recs == nil {
				recs = []ledger.Record{}
			}
			return c.printJSON(recs)
		},
	}
	cmd.Flags().IntVar(&count, "count", 5, "number of records")
	return cmd
}

func (c *cli) approvalsCmd() *cobra.Command {
	var voter string
	cmd := &cobra.Command{
		Use:   "approvals <id>",
		Short: "Print the multisig approval state of a record",
		Args:  inputArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if voter != "" && !common.IsHexAddress(voter) {
				return diagnose.MarkInvalid(fmt.Errorf("--voter %q is not a hex address", voter))
			}
			_, _, wf, err := c.setup()
			if err != nil {
				return err
			}
			st, err := wf.Approvals(c.ctx, id)
			if err != nil {
				return err
			}
			out := map[string]any{"approval": st}
			if voter != "" {
				v, err := wf.Vote(c.ctx, id, common.HexToAddress(voter))
				if err != nil {
					return err
				}
				out["vote"] = v
			}
			return c.printJSON(out)
		},
	}
	cmd.Flags().StringVar(&voter, "voter", "", "also report this address's stakeholder status and approval")
	return cmd
}

func (c *cli) governanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "governance",
		Short: "Print the contract oracle, stakeholders and approval threshold",
		Args:  inputArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _, wf, err := c.setup()
			if err != nil {
				return err
			}
			g, err := wf.Governance(c.ctx)
			if err != nil {
				return err
			}
			return c.printJSON(g)
		},
	}
}

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  inputArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, opts, wf, err := c.setup()
			if err != nil {
				return err
			}
			gw, err := content.NewGateway(cfg.IPFSGatewayURL, nil)
			if err != nil {
				return diagnose.MarkInvalid(err)
			}
			if addr == "" {
				addr = cfg.HTTPAddr
			}
			srv := api.New(wf, gw, api.Info{
				Contract:      opts.Contract.Hex(),
				OracleAddress: cfg.OracleAddress,
				ChainID:       opts.ChainID,
			}, cfg.PrivateKey)
			return srv.Run(c.ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR)")
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  inputArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, _ []string) {
			c.println(version)
		},
	}
}
