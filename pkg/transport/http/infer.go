package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rhuss/tensorgate/pkg/api"
	"github.com/rhuss/tensorgate/pkg/compress"
	"github.com/rhuss/tensorgate/pkg/debug"
	"github.com/rhuss/tensorgate/pkg/observability"
	"github.com/rhuss/tensorgate/pkg/router"
	"github.com/rhuss/tensorgate/pkg/transport"
	"github.com/rhuss/tensorgate/pkg/wire"
)

// HeaderContentLength announces the length of the JSON header in a body
// that carries binary tensor data after it.
const HeaderContentLength = "Inference-Header-Content-Length"

// handleInfer handles POST /v2/models/{model}[/versions/{version}]/infer.
func (a *Adapter) handleInfer(w http.ResponseWriter, r *http.Request, route router.Route) {
	format := a.codec.Decoder.Format().String()

	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	observability.BodyBytes.WithLabelValues("request", format).Observe(float64(body.Len()))

	opts := wire.DecodeOptions{ModelName: route.Model, ModelVersion: route.Version}
	if v := r.Header.Get(HeaderContentLength); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			transport.WriteAPIError(w, api.NewInvalidArgumentError(HeaderContentLength, "invalid header length "+strconv.Quote(v)))
			return
		}
		opts.HeaderLength, opts.HasHeaderLength = n, true
	}

	req, err := a.codec.Decoder.Decode(body, opts)
	if err != nil {
		apiErr := api.AsAPIError(err)
		observability.DecodeErrorsTotal.WithLabelValues(format, string(apiErr.Type)).Inc()
		transport.WriteAPIError(w, apiErr)
		return
	}
	defer req.Release()

	resp, err := a.infer(r.Context(), req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}

	encoded, err := a.codec.Encoder.Encode(resp)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	a.writeEncoded(w, r, encoded)
}

// readBody reads the whole request body into fixed-size segments, removing
// any content coding. It writes the error response itself and reports
// whether the body was read.
func (a *Adapter) readBody(w http.ResponseWriter, r *http.Request) (wire.Body, bool) {
	var src io.ReadCloser = r.Body
	if a.config.MaxBodySize > 0 {
		src = http.MaxBytesReader(w, src, a.config.MaxBodySize)
	}

	codec := compress.ParseCodec(r.Header.Get("Content-Encoding"))
	if codec != compress.CodecIdentity {
		if codec == compress.CodecUnknown || a.codec.Compressor == nil {
			transport.WriteErrorResponse(w,
				api.NewInvalidArgumentError("Content-Encoding", "unsupported content encoding "+strconv.Quote(r.Header.Get("Content-Encoding"))),
				http.StatusUnsupportedMediaType,
			)
			return wire.Body{}, false
		}
		decoded, err := a.codec.Compressor.Decompress(src, codec)
		if err != nil {
			a.writeReadError(w, err)
			return wire.Body{}, false
		}
		defer decoded.Close()
		src = decoded
		if a.config.MaxBodySize > 0 {
			// Bound the decoded size too.
			src = http.MaxBytesReader(w, src, a.config.MaxBodySize)
		}
	}

	body, err := wire.ReadBody(src, a.config.ChunkSize)
	if err != nil {
		a.writeReadError(w, err)
		return wire.Body{}, false
	}
	debug.Log("transport", "request body read",
		"bytes", body.Len(), "segments", len(body.Segments()), "encoding", codec.String())
	return body, true
}

func (a *Adapter) writeReadError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		transport.WriteErrorResponse(w,
			api.NewInvalidArgumentError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
			http.StatusRequestEntityTooLarge,
		)
		return
	}
	transport.WriteAPIError(w, api.NewInvalidArgumentError("body", "failed to read request body: "+err.Error()))
}

// infer calls the inferer chain and records runtime metrics.
func (a *Adapter) infer(ctx context.Context, req *api.InferRequest) (*api.InferResponse, error) {
	start := time.Now()
	resp, err := a.inferer.Infer(ctx, req)
	observability.InferLatency.WithLabelValues(req.ModelName).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = string(api.AsAPIError(err).Type)
	}
	observability.InferRequestsTotal.WithLabelValues(req.ModelName, status).Inc()

	if err == nil && resp == nil {
		return nil, api.NewInternalError("runtime returned no response")
	}
	return resp, err
}

// writeEncoded compresses and writes an encoded response.
func (a *Adapter) writeEncoded(w http.ResponseWriter, r *http.Request, enc *wire.Encoded) {
	observability.BodyBytes.WithLabelValues("response", enc.Format.String()).Observe(float64(enc.Size))

	h := w.Header()
	switch {
	case enc.Format == wire.FormatRecord || enc.HasBinary:
		h.Set("Content-Type", "application/octet-stream")
	default:
		h.Set("Content-Type", "application/json")
	}
	if enc.Format == wire.FormatStandard && enc.HasBinary {
		h.Set(HeaderContentLength, strconv.Itoa(enc.HeaderLength))
	}

	out := enc.Body
	if a.codec.Compressor != nil && enc.Size > 0 && enc.Size >= a.config.MinCompressSize {
		requested := a.config.ResponseCodec
		if accept := r.Header.Get("Accept-Encoding"); accept != "" {
			requested = compress.Negotiate(accept)
		}
		var applied compress.Codec
		out, applied = a.codec.Compressor.Compress(out, requested)
		if ce := applied.ContentEncoding(); ce != "" {
			h.Set("Content-Encoding", ce)
			h.Add("Vary", "Accept-Encoding")
		}
	}

	size := 0
	for _, b := range out {
		size += len(b)
	}
	h.Set("Content-Length", strconv.Itoa(size))
	w.WriteHeader(http.StatusOK)

	bufs := net.Buffers(out)
	if _, err := bufs.WriteTo(w); err != nil {
		debug.Log("transport", "response write failed", "error", err.Error())
	}
}
