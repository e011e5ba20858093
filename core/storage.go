package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/oceanprotocol/ocean-node/core/types"
)

// fetchClient performs storage-backend requests. No client-level timeout:
// download streams can be long-lived and are bounded by the dispatch
// context instead.
var fetchClient = &http.Client{}

// openFile resolves a file descriptor against its storage backend and
// opens the byte stream. The ipfs and arweave backends require their
// gateway to be configured; absence is a resolution error, not a crash.
func (e *Env) openFile(ctx context.Context, fo *types.FileObject) (io.ReadCloser, map[string]string, error) {
	if fo == nil {
		return nil, nil, fmt.Errorf("no file descriptor")
	}
	var (
		target string
		method = http.MethodGet
	)
	switch fo.Type {
	case types.FileTypeURL:
		if fo.URL == "" {
			return nil, nil, fmt.Errorf("url file has no url")
		}
		target = fo.URL
		if fo.Method != "" {
			method = strings.ToUpper(fo.Method)
		}
	case types.FileTypeIPFS:
		if e.Config.IPFSGateway == "" {
			return nil, nil, fmt.Errorf("ipfs storage is not configured")
		}
		target = strings.TrimRight(e.Config.IPFSGateway, "/") + "/ipfs/" + fo.Hash
	case types.FileTypeArweave:
		if e.Config.ArweaveGateway == "" {
			return nil, nil, fmt.Errorf("arweave storage is not configured")
		}
		target = strings.TrimRight(e.Config.ArweaveGateway, "/") + "/" + fo.Hash
	default:
		return nil, nil, fmt.Errorf("unsupported storage type %q", fo.Type)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range fo.Headers {
		req.Header.Set(k, v)
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching %s file: %w", fo.Type, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("fetching %s file: upstream status %d", fo.Type, resp.StatusCode)
	}

	headers := make(map[string]string)
	for _, k := range []string{"Content-Type", "Content-Length", "Content-Disposition", "Transfer-Encoding"} {
		if v := resp.Header.Get(k); v != "" {
			headers[k] = v
		}
	}
	return resp.Body, headers, nil
}

// readFile fully buffers a file descriptor's content. Used where the
// handler needs the complete payload (encryptFile).
func (e *Env) readFile(ctx context.Context, fo *types.FileObject) ([]byte, error) {
	stream, _, err := e.openFile(ctx, fo)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return io.ReadAll(stream)
}
