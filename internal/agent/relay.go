package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Downstream receives relayed bytes. Start is called exactly once, after the
// agent accepted the call and before the first Write.
type Downstream interface {
	Start(contentType string)
	Write(p []byte) (int, error)
	Flush()
}

// Opener opens an agent stream. *Client is the production implementation.
type Opener interface {
	Open(ctx context.Context, req Request) (*Stream, error)
}

type RelayConfig struct {
	MaxConcurrent int64
	QueueTimeout  time.Duration
	Params        Params
}

// Relay bridges chat turns to the agent, bounding how many calls run at once.
type Relay struct {
	opener       Opener
	sem          *semaphore.Weighted
	queueTimeout time.Duration
	params       Params
	logger       *zap.Logger
}

func NewRelay(opener Opener, cfg RelayConfig, logger *zap.Logger) *Relay {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Relay{
		opener:       opener,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrent),
		queueTimeout: cfg.QueueTimeout,
		params:       cfg.Params,
		logger:       logger,
	}
}

func (r *Relay) acquire(ctx context.Context) error {
	if r.queueTimeout <= 0 {
		if !r.sem.TryAcquire(1) {
			return ErrRelayBusy
		}
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.queueTimeout)
	defer cancel()
	if err := r.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRelayBusy
	}
	return nil
}

// Pipe makes one agent call and forwards every chunk to dst as soon as it is
// read, flushing after each write. Chunks are neither merged, split nor
// decoded. It returns the number of bytes forwarded.
//
// Failures before Start is called are ErrRelayBusy or ErrUpstream and leave dst
// untouched. Failures afterwards are ErrStream or ErrDownstream; the upstream
// connection is released in every case.
func (r *Relay) Pipe(ctx context.Context, req Request, dst Downstream) (int64, error) {
	if err := r.acquire(ctx); err != nil {
		return 0, err
	}
	defer r.sem.Release(1)

	req = req.WithDefaults(r.params)
	stream, err := r.opener.Open(ctx, req)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	contentType := stream.ContentType()
	if contentType == "" {
		contentType = "text/event-stream"
	}
	dst.Start(contentType)

	var written int64
	for {
		chunk, err := stream.Next()
		if len(chunk) > 0 {
			n, werr := dst.Write(chunk)
			written += int64(n)
			if werr != nil {
				return written, fmt.Errorf("%w: %v", ErrDownstream, werr)
			}
			dst.Flush()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Debug("agent stream complete",
					zap.String("thread_id", req.ThreadID),
					zap.Int64("bytes", written))
				return written, nil
			}
			return written, err
		}
	}
}
