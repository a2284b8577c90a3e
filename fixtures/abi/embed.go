package abi

import _ "embed"

// Contract ABIs consumed by the submitter and the ledger reader.

//go:embed prediction_multisig.json
var PredictionMultisig []byte
