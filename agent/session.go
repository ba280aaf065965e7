//go:build linux

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"time"

	"github.com/vsocky/vsocky/agent/runner"
	"github.com/vsocky/vsocky/codec"
	"github.com/vsocky/vsocky/protocol"
	"github.com/vsocky/vsocky/vsockerr"
	"github.com/vsocky/vsocky/vsockio"
)

// serveConn runs one session: read frames, dispatch, write responses, until
// the peer goes away, a hard error occurs, or shutdown is requested. The
// connection is owned and closed here.
func (a *Agent) serveConn(conn *vsockio.Conn) {
	a.sessionMut.Lock()
	defer a.sessionMut.Unlock()
	defer conn.Close()

	log := a.logger.Named("session")
	if cid, port, ok := conn.PeerAddress(); ok {
		log = log.With("PeerCID", cid, "PeerPort", port)
	}
	log.Infof("session started")
	defer log.Infof("session ended")

	frames := protocol.NewFrameReader()
	buf := make([]byte, readBufSize)

	for {
		if a.stopping() {
			return
		}

		ready, err := vsockio.WaitReadable(conn.Fd(), pollInterval)
		if err != nil {
			log.Debugf("poll error: %s", err)
			return
		}
		if !ready {
			continue
		}

		n, err := conn.Read(buf)
		switch {
		case err == nil:
			if n == 0 {
				// poll raced with another consumer or was spurious
				continue
			}
		case errors.Is(err, vsockerr.Interrupted):
			continue
		case errors.Is(err, vsockerr.ConnectionClosed):
			log.Debugf("peer closed connection")
			return
		default:
			log.Warnf("read error: %s", err)
			return
		}

		a.metrics.bytesIn.Add(float64(n))
		if err := frames.Feed(buf[:n]); err != nil {
			// framing cannot resynchronize; report and drop the peer
			log.Warnf("framing error: %s", err)
			_ = a.writeResponse(conn, protocol.ErrorResponse("", vsockerr.CodeOf(err)))
			return
		}

		for {
			payload, ok := frames.Next()
			if !ok {
				break
			}
			resp := a.dispatch(payload)
			if err := a.writeResponse(conn, resp); err != nil {
				log.Debugf("write error: %s", err)
				return
			}
		}
	}
}

// dispatch handles one request payload and always produces a response.
func (a *Agent) dispatch(payload []byte) *protocol.Response {
	req, err := protocol.ParseRequest(payload)
	if err != nil {
		code := vsockerr.CodeOf(err)
		a.metrics.failures.WithLabelValues(code.Token()).Inc()
		return protocol.ErrorResponse("", code)
	}

	a.metrics.requests.WithLabelValues(req.Type).Inc()

	switch req.Type {
	case protocol.TypePing:
		return &protocol.Response{Type: protocol.TypePong, ID: req.ID}

	case protocol.TypeVersion:
		return &protocol.Response{
			Type:      protocol.TypeVersion,
			ID:        req.ID,
			Version:   a.version,
			GoVersion: runtime.Version(),
		}

	case protocol.TypeStatus:
		status, err := a.selfStatus()
		if err != nil {
			return a.failure(req.ID, err)
		}
		return &protocol.Response{Type: protocol.TypeStatus, ID: req.ID, Status: status}

	case protocol.TypeExec:
		return a.handleExec(req)
	}

	// unreachable: ParseRequest rejects unknown types
	return protocol.ErrorResponse(req.ID, vsockerr.UnsupportedType)
}

func (a *Agent) handleExec(req *protocol.Request) *protocol.Response {
	if !runner.Supported(req.Language) {
		return a.failure(req.ID, vsockerr.UnsupportedLanguage)
	}

	code, err := codec.Decode(req.Code)
	if err != nil {
		return a.failure(req.ID, err)
	}
	var stdin []byte
	if req.Stdin != "" {
		if stdin, err = codec.Decode(req.Stdin); err != nil {
			return a.failure(req.ID, err)
		}
	}

	res, err := a.runner.Run(context.Background(), &runner.Submission{
		ID:       req.ID,
		Language: req.Language,
		Code:     code,
		Stdin:    stdin,
		Timeout:  time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return a.failure(req.ID, err)
	}

	resp := &protocol.Response{
		Type:            protocol.TypeResult,
		ID:              req.ID,
		ExitCode:        res.ExitCode,
		Stdout:          codec.Encode(res.Stdout),
		Stderr:          codec.Encode(res.Stderr),
		StdoutTruncated: res.StdoutTruncated,
		StderrTruncated: res.StderrTruncated,
		TimedOut:        res.TimedOut,
		TimeMS:          res.WallTime.Milliseconds(),
		Usage: &protocol.Usage{
			MaxRSSKB:     res.Usage.MaxRSSKB,
			UserTimeMS:   res.Usage.UserTimeMS,
			SystemTimeMS: res.Usage.SystemTimeMS,
		},
	}
	return resp
}

func (a *Agent) failure(id string, err error) *protocol.Response {
	code := vsockerr.CodeOf(err)
	a.metrics.failures.WithLabelValues(code.Token()).Inc()
	return protocol.ErrorResponse(id, code)
}

// writeResponse frames resp and writes it fully, retrying would-block with a
// bounded poll so a stalled peer cannot wedge shutdown.
func (a *Agent) writeResponse(conn *vsockio.Conn, resp *protocol.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return vsockerr.Wrap(vsockerr.InternalError, err)
	}
	frame, err := protocol.EncodeFrame(payload)
	if err != nil {
		return err
	}

	for len(frame) > 0 {
		if a.stopping() {
			return vsockerr.ConnectionClosed
		}
		n, err := conn.Write(frame)
		if err != nil {
			if errors.Is(err, vsockerr.Interrupted) {
				continue
			}
			return err
		}
		a.metrics.bytesOut.Add(float64(n))
		frame = frame[n:]
		if len(frame) == 0 {
			break
		}
		if n == 0 {
			// output buffer full; wait for space
			if _, err := vsockio.WaitWritable(conn.Fd(), pollInterval); err != nil {
				return err
			}
		}
	}
	return nil
}

