package provider

import "encoding/json"

// response is the envelope shared by the account/contract/logs modules
type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// proxyResponse is the JSON-RPC envelope returned by module=proxy
type proxyResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *proxyError     `json:"error,omitempty"`
}

type proxyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// sourceCode is one element of the getsourcecode result
type sourceCode struct {
	SourceCode      string `json:"SourceCode"`
	ABI             string `json:"ABI"`
	ContractName    string `json:"ContractName"`
	CompilerVersion string `json:"CompilerVersion"`
	Proxy           string `json:"Proxy"`
	Implementation  string `json:"Implementation"`
}

// internalTx is one element of the txlistinternal result
type internalTx struct {
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Type            string `json:"type"`
}

// logEntry is one element of the getLogs result. Deployment feeds may
// carry contractAddress/creatorAddress directly.
type logEntry struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TimeStamp       string   `json:"timeStamp"`
	TransactionHash string   `json:"transactionHash"`
	From            string   `json:"from"`
	ContractAddress string   `json:"contractAddress"`
	CreatorAddress  string   `json:"creatorAddress"`
}

const unverifiedABI = "Contract source code not verified"
