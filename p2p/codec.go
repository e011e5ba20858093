// Package p2p adapts the command layer to the overlay network: a JSON
// envelope codec plus stream glue. Peer discovery, DHT and pubsub live
// in the libp2p host that hands streams to this package.
package p2p

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"
	"github.com/libp2p/go-libp2p/core/network"

	"github.com/oceanprotocol/ocean-node/core"
)

// ProtocolID identifies the command protocol on the overlay.
const ProtocolID = "/ocean/nodes/1.0.0"

// maxEnvelopeBytes bounds a single command envelope. Streams carrying
// more than this in their first line are malformed or hostile.
const maxEnvelopeBytes = 8 << 20

// ReadCommand decodes one wire envelope: a newline-terminated JSON
// object whose "command" field selects the typed shape.
func ReadCommand(r *bufio.Reader) (core.Commander, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	var probe struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("malformed command envelope: %w", err)
	}
	return core.ParseCommand(probe.Command, line)
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, more, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxEnvelopeBytes {
			return nil, fmt.Errorf("command envelope exceeds %d bytes", maxEnvelopeBytes)
		}
		if !more {
			return line, nil
		}
	}
}

// WriteResponse writes the status frame as one JSON line, then pipes the
// response stream verbatim. The peer reads the frame first and knows
// from it whether bytes follow.
func WriteResponse(w io.Writer, resp *core.Response) error {
	frame, err := json.Marshal(resp.Status)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(frame, '\n')); err != nil {
		return err
	}
	if resp.Stream == nil {
		return nil
	}
	_, err = io.Copy(w, resp.Stream)
	return err
}

// HandleStream serves one command over rw: read the envelope, dispatch,
// write the response. Decode failures are answered with a status frame
// rather than a dropped stream.
func HandleStream(ctx context.Context, registry *core.Registry, rw io.ReadWriter) error {
	cmd, err := ReadCommand(bufio.NewReader(rw))
	if err != nil {
		return WriteResponse(rw, core.ErrorResponse(400, "%v", err))
	}
	return WriteResponse(rw, registry.Dispatch(ctx, cmd))
}

// StreamHandler binds HandleStream to a libp2p host's protocol mux.
func StreamHandler(registry *core.Registry) network.StreamHandler {
	logger := log.New("service", "p2p")
	return func(stream network.Stream) {
		defer stream.Close()
		if err := HandleStream(context.Background(), registry, stream); err != nil {
			logger.Warn("Stream handling failed", "peer", stream.Conn().RemotePeer(), "err", err)
		}
	}
}
