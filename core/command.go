// Package core implements the node's command layer: the closed command
// vocabulary, the handler registry and router, and one handler per
// command. Transports construct Command values and hand them to
// Registry.Dispatch; they never talk to handlers directly.
package core

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/oceanprotocol/ocean-node/core/types"
	"github.com/oceanprotocol/ocean-node/crypt"
)

// The command vocabulary. This enumeration is the single authoritative
// list; the supported-command set below is derived from it and shared by
// every transport.
const (
	CmdStatus      = "status"
	CmdEcho        = "echo"
	CmdNonce       = "nonce"
	CmdDownload    = "download"
	CmdDownloadURL = "downloadURL"
	CmdEncrypt     = "encrypt"
	CmdEncryptFile = "encryptFile"
	CmdDecryptDDO  = "decryptDDO"
	CmdGetDDO      = "getDDO"
	CmdFindDDO     = "findDDO"
	CmdQuery       = "query"
	CmdInitialize  = "initialize"
)

// SupportedCommands is the set of command names the node dispatches.
var SupportedCommands = mapset.NewSet(
	CmdStatus,
	CmdEcho,
	CmdNonce,
	CmdDownload,
	CmdDownloadURL,
	CmdEncrypt,
	CmdEncryptFile,
	CmdDecryptDDO,
	CmdGetDDO,
	CmdFindDDO,
	CmdQuery,
	CmdInitialize,
)

// Commander is implemented by every command variant through the embedded
// Command tag.
type Commander interface {
	// Name returns the command's vocabulary name.
	Name() string
	// TargetNode returns the node the command is addressed to, empty for
	// the local node.
	TargetNode() string
}

// Command is the tag embedded in every variant. Immutable once built.
type Command struct {
	Command string `json:"command"`
	Node    string `json:"node,omitempty"`
}

func (c Command) Name() string       { return c.Command }
func (c Command) TargetNode() string { return c.Node }

// StatusCommand requests the node status snapshot.
type StatusCommand struct {
	Command
	Detailed bool `json:"detailed,omitempty"`
}

// EchoCommand bounces a message back to the caller, used as an overlay
// liveness probe.
type EchoCommand struct {
	Command
	Message string `json:"message,omitempty"`
}

// NonceCommand reads the stored nonce for an address.
type NonceCommand struct {
	Command
	Address string `json:"address"`
}

// DownloadCommand requests one file of a resolved document's service.
type DownloadCommand struct {
	Command
	FileIndex       int    `json:"fileIndex"`
	DocumentID      string `json:"documentId"`
	ServiceID       string `json:"serviceId"`
	TransferTxID    string `json:"transferTxId"`
	Nonce           string `json:"nonce"`
	ConsumerAddress string `json:"consumerAddress"`
	Signature       string `json:"signature"`
}

// DownloadURLCommand streams a raw file descriptor, bypassing document
// resolution. Overlay-only.
type DownloadURLCommand struct {
	Command
	File *types.FileObject `json:"file"`
}

// EncryptCommand encrypts an in-band blob.
type EncryptCommand struct {
	Command
	Blob           string       `json:"blob"`
	Encoding       string       `json:"encoding,omitempty"` // "string" (default) or "base64"
	EncryptionType crypt.Method `json:"encryptionType,omitempty"`
}

// EncryptFileCommand encrypts file content supplied either as a file
// descriptor or as raw bytes. The transports normalize their three wire
// encodings (JSON descriptor, octet-stream, multipart) into these two
// fields before the command is built.
type EncryptFileCommand struct {
	Command
	Files          *types.FileObject `json:"files,omitempty"`
	RawData        []byte            `json:"rawData,omitempty"`
	EncryptionType crypt.Method      `json:"encryptionType,omitempty"`
}

// DecryptDDOCommand decrypts a previously encrypted DDO document.
type DecryptDDOCommand struct {
	Command
	DecrypterAddress  string `json:"decrypterAddress"`
	ChainID           uint64 `json:"chainId"`
	TransactionID     string `json:"transactionId,omitempty"`
	DataNFTAddress    string `json:"dataNftAddress"`
	EncryptedDocument string `json:"encryptedDocument"` // hex
	Flags             uint8  `json:"flags"`
	DocumentHash      string `json:"documentHash"` // hex keccak256 of the plaintext
	Nonce             string `json:"nonce"`
	Signature         string `json:"signature"` // hex
}

// GetDDOCommand fetches a full DDO document by id.
type GetDDOCommand struct {
	Command
	ID string `json:"id"`
}

// FindDDOCommand resolves a DID to its provider and last-update info.
type FindDDOCommand struct {
	Command
	ID string `json:"id"`
}

// QueryCommand runs a prefix query against the DDO store.
type QueryCommand struct {
	Command
	Prefix string `json:"prefix,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// InitializeCommand prepares a data-access session: it returns the
// datatoken, the consumer's nonce and a signed provider fee for the
// subsequent on-chain order. It never mutates chain state.
type InitializeCommand struct {
	Command
	DocumentID      string `json:"documentId"`
	ServiceID       string `json:"serviceId"`
	ConsumerAddress string `json:"consumerAddress"`
}
