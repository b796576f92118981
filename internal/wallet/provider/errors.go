package provider

import (
	"errors"
	"fmt"
)

// Wallet-reported error codes (EIP-1193 and MetaMask extensions).
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnrecognizedChain = 4902
)

// RPCError is a failure reported by the wallet itself rather than the
// transport carrying the request.
type RPCError struct {
	Code    int
	Message string
	// Data carries the optional error payload, e.g. ABI-encoded revert data
	// for a failed eth_call.
	Data any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet rpc error %d: %s", e.Code, e.Message)
}

// ErrorCode mirrors go-ethereum's rpc.Error so RPCError can be inspected by
// the same helpers used for node errors.
func (e *RPCError) ErrorCode() int { return e.Code }

// ErrorData mirrors go-ethereum's rpc.DataError.
func (e *RPCError) ErrorData() any { return e.Data }

// IsUserRejected reports whether the user declined the request in the wallet.
func IsUserRejected(err error) bool {
	return hasRPCCode(err, CodeUserRejected)
}

// IsUnrecognizedChain reports whether the wallet does not know the requested
// chain and it must be added first.
func IsUnrecognizedChain(err error) bool {
	return hasRPCCode(err, CodeUnrecognizedChain)
}

func hasRPCCode(err error, code int) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
