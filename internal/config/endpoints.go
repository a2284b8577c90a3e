package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Endpoint is one ranked RPC address. Lower rank is preferred.
type Endpoint struct {
	URL  string `yaml:"url" json:"url"`
	Rank int    `yaml:"rank" json:"rank"`
}

type endpointsFile struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

const defaultSecondaryRPC = "https://data-seed-prebsc-1-s1.binance.org:8545/"

// defaultRPCs is the built-in BSC testnet list, best first. Slot 1 is
// replaced by RPC_URL when set.
var defaultRPCs = []string{
	"https://bsc-testnet.publicnode.com",
	defaultSecondaryRPC,
	"https://endpoints.omniatech.io/v1/bsc/testnet/public",
	"https://data-seed-prebsc-1-s1.bnbchain.org:8545",
	"https://bsc-testnet.nodereal.io/v1/e9a36765eb8a40b9bd12e680a1fd2bc5",
	"https://bsctestapi.terminet.io/rpc",
	"https://bsc-testnet-rpc.publicnode.com",
}

// DefaultEndpoints returns the built-in ranked list with the optional primary override applied.
func DefaultEndpoints(override string) []Endpoint {
	out := make([]Endpoint, len(defaultRPCs))
	for i, u := range defaultRPCs {
		out[i] = Endpoint{URL: u, Rank: i + 1}
	}
	if o := strings.TrimSpace(override); o != "" {
		out[1].URL = o
	}
	return out
}

// LoadEndpointsFile parses a YAML endpoint list. Entries without a rank are
// ranked by position; the result is ordered by rank, ties keeping file order.
func LoadEndpointsFile(path string) ([]Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	var parsed endpointsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse endpoints file %s: %w", path, err)
	}
	out := make([]Endpoint, 0, len(parsed.Endpoints))
	for i, e := range parsed.Endpoints {
		e.URL = strings.TrimSpace(e.URL)
		if e.URL == "" {
			continue
		}
		if e.Rank <= 0 {
			e.Rank = i + 1
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("endpoints file %s lists no endpoints", path)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Rank < out[b].Rank })
	return out, nil
}

// Endpoints resolves the ranked endpoint list: the YAML file when configured,
// otherwise the built-in defaults.
func (c Config) Endpoints() ([]Endpoint, error) {
	if c.EndpointsFile != "" {
		return LoadEndpointsFile(c.EndpointsFile)
	}
	return DefaultEndpoints(c.RPCURL), nil
}

// RedactURL masks credentials embedded in RPC URLs: userinfo, API-key-like
// path segments and key/token query parameters.
func RedactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return RedactDSN(s)
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	segs := strings.Split(u.Path, "/")
	for i, seg := range segs {
		if looksLikeKey(seg) {
			segs[i] = "***"
		}
	}
	u.Path = strings.Join(segs, "/")
	u.RawPath = ""
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			switch strings.ToLower(k) {
			case "key", "apikey", "api_key", "token", "access_token", "secret":
				q.Set(k, "***")
			}
		}
		u.RawQuery = q.Encode()
	}
	return strings.ReplaceAll(u.String(), "%2A%2A%2A", "***")
}

func looksLikeKey(seg string) bool {
	if len(seg) < 24 {
		return false
	}
	for _, r := range seg {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
