package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// credentialABI is the read surface of the credential registry contract.
const credentialABI = `[
  {"type":"function","name":"verifyCredential","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[
     {"name":"tokenId","type":"uint256"},
     {"name":"student","type":"address"},
     {"name":"metadataURI","type":"string"},
     {"name":"issueTimestamp","type":"uint256"},
     {"name":"revoked","type":"bool"}]},
  {"type":"function","name":"ISSUER_ROLE","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"DEFAULT_ADMIN_ROLE","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"hasRole","stateMutability":"view",
   "inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const (
	methodVerifyCredential = "verifyCredential"
	methodIssuerRole       = "ISSUER_ROLE"
	methodDefaultAdminRole = "DEFAULT_ADMIN_ROLE"
	methodHasRole          = "hasRole"
)

var parsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(credentialABI))
	if err != nil {
		panic("ledger: invalid credential ABI: " + err.Error())
	}
	return parsed
}()

// ABI returns the parsed contract interface. Test backends use it to decode
// calls and encode results.
func ABI() abi.ABI {
	return parsedABI
}
