package ledger

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	dErrors "credverify/pkg/domain-errors"
)

// RevertCredentialMissing is the contract's revert reason for unknown ids.
const RevertCredentialMissing = "Credential does not exist"

// mapCallError classifies a failed contract read. Only the contract's own
// "does not exist" revert means not found; everything else is the ledger
// being unreachable or misbehaving.
func mapCallError(err error, op string) error {
	if err == nil {
		return nil
	}
	if reason, ok := RevertReason(err); ok && strings.Contains(reason, RevertCredentialMissing) {
		return dErrors.Wrap(err, dErrors.CodeCredentialNotFound, "credential does not exist")
	}
	if strings.Contains(err.Error(), RevertCredentialMissing) {
		return dErrors.Wrap(err, dErrors.CodeCredentialNotFound, "credential does not exist")
	}
	if errors.Is(err, bind.ErrNoCode) {
		return dErrors.Wrap(err, dErrors.CodeTransportFailure, "no credential contract at the configured address")
	}
	return dErrors.Wrap(err, dErrors.CodeTransportFailure, op+" failed")
}

// RevertReason extracts the Error(string) reason from a JSON-RPC error that
// carries ABI-encoded revert data.
func RevertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	var raw []byte
	switch data := dataErr.ErrorData().(type) {
	case string:
		decoded, decErr := hexutil.Decode(data)
		if decErr != nil {
			return "", false
		}
		raw = decoded
	case []byte:
		raw = data
	default:
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(raw)
	if unpackErr != nil {
		return "", false
	}
	return reason, true
}
