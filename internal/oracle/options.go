package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AIAleph/oracle_submit/internal/config"
	"github.com/AIAleph/oracle_submit/internal/endpoint"
	"github.com/AIAleph/oracle_submit/internal/fee"
)

// Options parameterize one workflow. Every network step is bounded by one
// of the timeouts below.
type Options struct {
	Contract    common.Address
	ChainID     int64
	ExplorerURL string
	Endpoints   []endpoint.Descriptor

	ProbeTimeout  time.Duration
	ParallelWidth int

	FeeTimeout    time.Duration
	MarginPercent int
	FallbackRate  *big.Int
	// GasCeiling caps the per-gas rate; a higher quote fails before sending.
	GasCeiling *big.Int
	GasLimit   uint64

	SubmitTimeout  time.Duration
	BalanceTimeout time.Duration

	WaitForConfirmation bool
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration

	// ExpectedSigner, when set, is compared against the derived signer.
	// A mismatch is only a warning.
	ExpectedSigner *common.Address
	RateLimit      int
}

// OptionsFromConfig maps validated environment configuration onto Options.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	eps, err := cfg.Endpoints()
	if err != nil {
		return Options{}, err
	}
	descs := make([]endpoint.Descriptor, len(eps))
	for i, e := range eps {
		descs[i] = endpoint.Descriptor{URL: e.URL, Rank: e.Rank}
	}
	o := Options{
		Contract:            common.HexToAddress(cfg.ContractAddress),
		ChainID:             cfg.ChainID,
		ExplorerURL:         cfg.ExplorerURL,
		Endpoints:           descs,
		ProbeTimeout:        cfg.ProbeTimeout,
		ParallelWidth:       cfg.ParallelWidth,
		FeeTimeout:          cfg.FeeTimeout,
		MarginPercent:       cfg.FeeMarginPercent,
		FallbackRate:        fee.GweiToWei(int64(cfg.FallbackGasPriceGwei)),
		GasCeiling:          fee.GweiToWei(int64(cfg.MaxGasPriceGwei)),
		GasLimit:            uint64(cfg.GasLimit),
		SubmitTimeout:       cfg.SubmitTimeout,
		BalanceTimeout:      cfg.BalanceTimeout,
		WaitForConfirmation: cfg.WaitConfirmation,
		ConfirmTimeout:      cfg.ConfirmTimeout,
		ConfirmPollInterval: cfg.ConfirmPollInterval,
		RateLimit:           cfg.RateLimit,
	}
	if a := strings.TrimSpace(cfg.OracleAddress); a != "" {
		addr := common.HexToAddress(a)
		o.ExpectedSigner = &addr
	}
	if len(o.Endpoints) == 0 {
		return Options{}, fmt.Errorf("no RPC endpoints configured")
	}
	return o, nil
}

// TxURL renders the explorer link for a tracking id.
func (o Options) TxURL(id string) string {
	if id == "" || o.ExplorerURL == "" {
		return ""
	}
	return strings.TrimRight(o.ExplorerURL, "/") + "/tx/" + id
}

// Plan is the redacted, network-free view of Options printed by dry runs.
type Plan struct {
	Contract            string   `json:"contract"`
	ChainID             int64    `json:"chainId"`
	Endpoints           []string `json:"endpoints"`
	ParallelWidth       int      `json:"parallelWidth"`
	ProbeTimeout        string   `json:"probeTimeout"`
	FeeTimeout          string   `json:"feeTimeout"`
	MarginPercent       int      `json:"marginPercent"`
	FallbackRateWei     string   `json:"fallbackRateWei"`
	GasCeilingWei       string   `json:"gasCeilingWei"`
	GasLimit            uint64   `json:"gasLimit"`
	SubmitTimeout       string   `json:"submitTimeout"`
	WaitForConfirmation bool     `json:"waitForConfirmation"`
	ConfirmTimeout      string   `json:"confirmTimeout,omitempty"`
	ExpectedSigner      string   `json:"expectedSigner,omitempty"`
}

func (o Options) Plan() Plan {
	p := Plan{
		Contract:            o.Contract.Hex(),
		ChainID:             o.ChainID,
		ParallelWidth:       o.ParallelWidth,
		ProbeTimeout:        o.ProbeTimeout.String(),
		FeeTimeout:          o.FeeTimeout.String(),
		MarginPercent:       o.MarginPercent,
		GasLimit:            o.GasLimit,
		SubmitTimeout:       o.SubmitTimeout.String(),
		WaitForConfirmation: o.WaitForConfirmation,
	}
	for _, d := range o.Endpoints {
		p.Endpoints = append(p.Endpoints, fmt.Sprintf("#%d %s", d.Rank, config.RedactURL(d.URL)))
	}
	if o.FallbackRate != nil {
		p.FallbackRateWei = o.FallbackRate.String()
	}
	if o.GasCeiling != nil {
		p.GasCeilingWei = o.GasCeiling.String()
	}
	if o.WaitForConfirmation {
		p.ConfirmTimeout = o.ConfirmTimeout.String()
	}
	if o.ExpectedSigner != nil {
		p.ExpectedSigner = o.ExpectedSigner.Hex()
	}
	return p
}
