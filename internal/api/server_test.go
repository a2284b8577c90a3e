package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AIAleph/oracle_submit/internal/content"
	"github.com/AIAleph/oracle_submit/internal/diagnose"
	"github.com/AIAleph/oracle_submit/internal/endpoint"
	"github.com/AIAleph/oracle_submit/internal/ledger"
	"github.com/AIAleph/oracle_submit/internal/oracle"
	"github.com/AIAleph/oracle_submit/internal/submit"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeBackend struct {
	lastInput oracle.Input
	result    oracle.Result
	runErr    error
	records   []ledger.Record
	readErr   error
}

func (f *fakeBackend) Run(_ context.Context, in oracle.Input) (oracle.Result, error) {
	f.lastInput = in
	return f.result, f.runErr
}

func (f *fakeBackend) Record(_ context.Context, id uint64) (ledger.Record, error) {
	if f.readErr != nil {
		return ledger.Record{}, f.readErr
	}
	if id >= uint64(len(f.records)) {
		return ledger.Record{}, errors.New("execution reverted: Prediction does not exist")
	}
	return f.records[id], nil
}

func (f *fakeBackend) Recent(_ context.Context, n int) ([]ledger.Record, error) {
	if len(f.records) > n {
		return f.records[len(f.records)-n:], f.readErr
	}
	return f.records, f.readErr
}

func (f *fakeBackend) Approvals(_ context.Context, id uint64) (ledger.Approval, error) {
	if _, err := f.Record(context.Background(), id); err != nil {
		return ledger.Approval{}, err
	}
	return ledger.Approval{ID: id, Approvals: 1, Required: 2}, nil
}

func (f *fakeBackend) Vote(_ context.Context, id uint64, voter common.Address) (ledger.Vote, error) {
	return ledger.Vote{ID: id, Voter: voter, Stakeholder: true, Approved: id == 0}, nil
}

func (f *fakeBackend) Governance(context.Context) (ledger.Governance, error) {
	if f.readErr != nil {
		return ledger.Governance{}, f.readErr
	}
	return ledger.Governance{Oracle: common.HexToAddress("0xa1"), MinApprovals: 2}, nil
}

type fakeFetcher map[string]string

func (f fakeFetcher) Fetch(_ context.Context, ref string, out any) error {
	doc, ok := f[ref]
	if !ok {
		return &content.StatusError{Code: http.StatusNotFound, Op: "fetch"}
	}
	return json.Unmarshal([]byte(doc), out)
}

func (f fakeFetcher) Exists(_ context.Context, ref string) (bool, error) {
	if ref == "QmBroken" {
		return false, &content.StatusError{Code: http.StatusBadGateway, Op: "head"}
	}
	_, ok := f[ref]
	return ok, nil
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	var m map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	return w, m
}

func TestStatus(t *testing.T) {
	s := New(&fakeBackend{}, nil, Info{Contract: "0xc0", ChainID: 97}, "")
	w, m := do(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "0xc0", m["smart_contract"])
	require.Equal(t, "Not configured", m["oracle_address"])
	require.Equal(t, "BSC Testnet (Chain ID: 97)", m["network"])

	w, _ = do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSubmit_StatusCodes(t *testing.T) {
	cases := []struct {
		name string
		res  oracle.Result
		code int
	}{
		{"simulated", oracle.Result{Outcome: submit.Outcome{Status: submit.Accepted, Simulated: true}}, http.StatusOK},
		{"accepted", oracle.Result{Outcome: submit.Outcome{Status: submit.Accepted, TrackingID: "0x1"}}, http.StatusAccepted},
		{"confirmed", oracle.Result{Outcome: submit.Outcome{Status: submit.Accepted}, Confirmation: &submit.Confirmation{Succeeded: true}}, http.StatusOK},
		{"reverted", oracle.Result{Outcome: submit.Outcome{Status: submit.Accepted}, Confirmation: &submit.Confirmation{}, Kind: diagnose.Reverted}, http.StatusBadGateway},
		{"timeout", oracle.Result{Outcome: submit.Outcome{Status: submit.TimedOut}}, http.StatusGatewayTimeout},
		{"rejected", oracle.Result{Outcome: submit.Outcome{Status: submit.Rejected, Reason: "nonce too low"}}, http.StatusBadGateway},
		{"no endpoint", oracle.Result{Outcome: submit.Outcome{Status: submit.NoEndpointAvailable}}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(&fakeBackend{result: tc.res}, nil, Info{}, "")
			w, m := do(t, s, http.MethodPost, "/v1/submissions", `{"ipfsHash":"Qm","confidenceScore":85}`)
			require.Equal(t, tc.code, w.Code)
			require.Equal(t, tc.res.Outcome.Status.String(), m["status"])
		})
	}
}

func TestSubmit_PassesInputAndRedacts(t *testing.T) {
	b := &fakeBackend{result: oracle.Result{
		Outcome:  submit.Outcome{Status: submit.Rejected, Reason: "insufficient funds"},
		Endpoint: &endpoint.Descriptor{URL: "https://u:pw@rpc.example/", Rank: 1},
		Kind:     diagnose.InsufficientResources,
	}}
	s := New(b, nil, Info{}, "0xkey")
	w, m := do(t, s, http.MethodPost, "/v1/submissions", `{"ipfsHash":"QmX","confidenceScore":42,"wait":true}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Equal(t, oracle.Input{ContentRef: "QmX", Score: 42, PrivateKey: "0xkey", Wait: true}, b.lastInput)
	require.Equal(t, "insufficient_resources", m["diagnosis"])
	require.NotEmpty(t, m["guidance"])
	require.NotContains(t, w.Body.String(), "pw@")
	require.NotContains(t, w.Body.String(), "0xkey")
}

func TestSubmit_BadRequests(t *testing.T) {
	b := &fakeBackend{runErr: &oracle.ValidationError{Field: "confidence score", Reason: "101 is outside [0, 100]"}}
	s := New(b, nil, Info{}, "")
	w, m := do(t, s, http.MethodPost, "/v1/submissions", `{"ipfsHash":"Qm","confidenceScore":101}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, m["error"], "outside")

	w, _ = do(t, s, http.MethodPost, "/v1/submissions", `{"ipfsHash":"Qm"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, s, http.MethodPost, "/v1/submissions", `not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func fixtureRecords(n int) []ledger.Record {
	out := make([]ledger.Record, n)
	for i := range out {
		out[i] = ledger.Record{ID: uint64(i), ContentRef: fmt.Sprintf("Qm%d", i), Score: 50}
	}
	return out
}

func TestRecord(t *testing.T) {
	s := New(&fakeBackend{records: fixtureRecords(2)}, nil, Info{}, "")
	w, m := do(t, s, http.MethodGet, "/v1/records/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Qm1", m["ipfsHash"])

	w, _ = do(t, s, http.MethodGet, "/v1/records/abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, s, http.MethodGet, "/v1/records/9", "")
	require.Equal(t, http.StatusBadGateway, w.Code)

	s = New(&fakeBackend{readErr: fmt.Errorf("%w: all 7 endpoints failed", endpoint.ErrNoEndpointAvailable)}, nil, Info{}, "")
	w, _ = do(t, s, http.MethodGet, "/v1/records/0", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRecent(t *testing.T) {
	s := New(&fakeBackend{records: fixtureRecords(8)}, nil, Info{}, "")
	w, m := do(t, s, http.MethodGet, "/v1/records", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, m["records"], 5)

	w, m = do(t, s, http.MethodGet, "/v1/records?recent=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, m["records"], 2)

	w, _ = do(t, s, http.MethodGet, "/v1/records?recent=0", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecent_Partial(t *testing.T) {
	s := New(&fakeBackend{records: fixtureRecords(3), readErr: errors.New("record 1: reverted")}, nil, Info{}, "")
	w, m := do(t, s, http.MethodGet, "/v1/records?recent=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, m["error"], "record 1")
}

func TestContent(t *testing.T) {
	s := New(&fakeBackend{}, fakeFetcher{"QmDoc": `{"asset":"water"}`}, Info{}, "")
	w, m := do(t, s, http.MethodGet, "/v1/content/QmDoc", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "water", m["asset"])

	w, _ = do(t, s, http.MethodGet, "/v1/content/QmMissing", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	s = New(&fakeBackend{}, nil, Info{}, "")
	w, _ = do(t, s, http.MethodGet, "/v1/content/QmDoc", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestContentExists(t *testing.T) {
	s := New(&fakeBackend{}, fakeFetcher{"QmDoc": `{}`}, Info{}, "")
	for ref, code := range map[string]int{
		"QmDoc":     http.StatusOK,
		"QmMissing": http.StatusNotFound,
		"QmBroken":  http.StatusBadGateway,
	} {
		w, _ := do(t, s, http.MethodHead, "/v1/content/"+ref, "")
		require.Equal(t, code, w.Code, ref)
	}
}

func TestApprovals(t *testing.T) {
	s := New(&fakeBackend{records: fixtureRecords(2)}, nil, Info{}, "")
	w, m := do(t, s, http.MethodGet, "/v1/records/0/approvals", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, m, "vote")
	approval := m["approval"].(map[string]any)
	require.EqualValues(t, 2, approval["required"])

	voter := "0x00000000000000000000000000000000000000b2"
	w, m = do(t, s, http.MethodGet, "/v1/records/0/approvals?voter="+voter, "")
	require.Equal(t, http.StatusOK, w.Code)
	vote := m["vote"].(map[string]any)
	require.Equal(t, true, vote["approved"])
	require.Equal(t, voter, vote["voter"])

	w, _ = do(t, s, http.MethodGet, "/v1/records/0/approvals?voter=nope", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, s, http.MethodGet, "/v1/records/7/approvals", "")
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGovernance(t *testing.T) {
	s := New(&fakeBackend{}, nil, Info{}, "")
	w, m := do(t, s, http.MethodGet, "/v1/governance", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 2, m["minApprovalsRequired"])

	s = New(&fakeBackend{readErr: endpoint.ErrNoEndpointAvailable}, nil, Info{}, "")
	w, _ = do(t, s, http.MethodGet, "/v1/governance", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
