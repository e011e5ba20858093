// Package types holds the data model shared between the stores, the
// command handlers and the transports: DDO documents, their services and
// file descriptors, and the provider fee envelope.
package types

import "fmt"

// Storage backend identifiers used in file descriptors.
const (
	FileTypeURL     = "url"
	FileTypeIPFS    = "ipfs"
	FileTypeArweave = "arweave"
)

// Service types. Compute services are initialized through a dedicated
// path and must never be served by the plain download flow.
const (
	ServiceTypeAccess  = "access"
	ServiceTypeCompute = "compute"
)

// FileObject describes one retrievable file of a service. URL files carry
// a method and optional headers; ipfs and arweave files carry the content
// hash resolved against the configured gateway.
type FileObject struct {
	Type    string            `json:"type"`
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Hash    string            `json:"hash,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// FileList is the decrypted payload of a service's files blob.
type FileList struct {
	NFTAddress       string       `json:"nftAddress,omitempty"`
	DatatokenAddress string       `json:"datatokenAddress,omitempty"`
	Files            []FileObject `json:"files"`
}

// Service is one access offering of a DDO.
type Service struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Name             string `json:"name,omitempty"`
	DatatokenAddress string `json:"datatokenAddress"`
	ServiceEndpoint  string `json:"serviceEndpoint,omitempty"`
	Timeout          uint64 `json:"timeout,omitempty"`
	// Files is the hex-encoded, node-encrypted file list.
	Files string `json:"files,omitempty"`
}

// Metadata is the descriptive part of a DDO. Only the fields the node
// inspects are modelled; the rest round-trips through RawExtra.
type Metadata struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Author      string `json:"author,omitempty"`
}

// Event records the chain event that last touched a DDO.
type Event struct {
	TxID     string `json:"txid"`
	Block    uint64 `json:"block"`
	From     string `json:"from,omitempty"`
	Contract string `json:"contract,omitempty"`
	Datetime string `json:"datetime,omitempty"`
}

// DDO is the document describing a decentralized identifier: metadata plus
// the services it can be consumed through.
type DDO struct {
	Context    []string  `json:"@context,omitempty"`
	ID         string    `json:"id"`
	Version    string    `json:"version,omitempty"`
	ChainID    uint64    `json:"chainId"`
	NFTAddress string    `json:"nftAddress,omitempty"`
	Metadata   Metadata  `json:"metadata,omitempty"`
	Services   []Service `json:"services"`
	Event      *Event    `json:"event,omitempty"`
}

// Service returns the service with the given id, or nil.
func (d *DDO) Service(id string) *Service {
	for i := range d.Services {
		if d.Services[i].ID == id {
			return &d.Services[i]
		}
	}
	return nil
}

// ProviderFee is the signed fee quote returned by the initialize flow and
// later submitted with the on-chain order transaction.
type ProviderFee struct {
	ProviderFeeAddress string `json:"providerFeeAddress"`
	ProviderFeeToken   string `json:"providerFeeToken"`
	ProviderFeeAmount  string `json:"providerFeeAmount"`
	ValidUntil         uint64 `json:"validUntil"`
	V                  uint8  `json:"v"`
	R                  string `json:"r"`
	S                  string `json:"s"`
	ProviderData       string `json:"providerData,omitempty"`
}

// FindDDOResponse is the answer to a find-DID lookup.
type FindDDOResponse struct {
	ID             string `json:"id"`
	Provider       string `json:"provider"`
	LastUpdateTx   string `json:"lastUpdateTx"`
	LastUpdateTime string `json:"lastUpdateTime"`
}

// Validate performs the structural checks a DDO must pass before being
// stored or advertised.
func (d *DDO) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("ddo has no id")
	}
	if d.ChainID == 0 {
		return fmt.Errorf("ddo %s has no chain id", d.ID)
	}
	return nil
}
