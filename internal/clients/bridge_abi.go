package clients

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const sourceBridgeABIJSON = `[
	{"type":"event","name":"BridgeRequest","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"dstChainId","type":"uint256","indexed":false}]},
	{"type":"function","name":"nextNonce","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"supportedChains","stateMutability":"view",
		"inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const destinationBridgeABIJSON = `[
	{"type":"function","name":"processed","stateMutability":"view",
		"inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"executeMint","stateMutability":"nonpayable","inputs":[
		{"name":"_amount","type":"uint256"},
		{"name":"_to","type":"address"},
		{"name":"_srcChainId","type":"uint256"},
		{"name":"_srcBridge","type":"address"},
		{"name":"_nonce","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"sourceBridgeForChain","stateMutability":"view",
		"inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	// SourceBridgeABI BridgeRequest event and source views
	SourceBridgeABI = mustParseABI(sourceBridgeABIJSON)
	// DestinationBridgeABI completion ledger and executeMint
	DestinationBridgeABI = mustParseABI(destinationBridgeABIJSON)

	// BridgeRequestTopic keccak256("BridgeRequest(address,address,uint256,uint256,uint256)")
	BridgeRequestTopic = SourceBridgeABI.Events["BridgeRequest"].ID
)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic("invalid bridge ABI: " + err.Error())
	}
	return parsed
}
