// Package ingest implements the concurrent multi-variant ingestion
// pipeline: one source stream fanned out into independent
// transform+store pipelines, with the response gated only on the
// primary variant.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/locator-kn/ms-fileserve/internal/domain"
	"github.com/locator-kn/ms-fileserve/internal/sanitize"
)

// Options tune a coordinator.
type Options struct {
	// VariantTimeout bounds each variant pipeline. A timed-out
	// secondary is detached alone; a timed-out primary aborts the
	// ingestion.
	VariantTimeout time.Duration
	// BufferChunks is the per-consumer splitter buffer depth.
	BufferChunks int
}

// Coordinator schedules one transform+store pipeline per planned
// variant and aggregates the outcome.
type Coordinator struct {
	planner  Planner
	store    BlobStore
	engine   Transformer
	observer VariantObserver
	opts     Options
	log      zerolog.Logger
}

// NewCoordinator creates a coordinator. The observer may be nil.
func NewCoordinator(planner Planner, store BlobStore, engine Transformer, observer VariantObserver, opts Options, log zerolog.Logger) *Coordinator {
	if opts.VariantTimeout <= 0 {
		opts.VariantTimeout = 30 * time.Second
	}
	if opts.BufferChunks <= 0 {
		opts.BufferChunks = 16
	}
	return &Coordinator{
		planner:  planner,
		store:    store,
		engine:   engine,
		observer: observer,
		opts:     opts,
		log:      log,
	}
}

type pipeline struct {
	spec   domain.VariantSpec
	name   string
	handle *domain.VariantHandle
	sink   Sink
	ctx    context.Context
	cancel context.CancelFunc
	src    io.ReadCloser
	done   chan struct{}

	// set only by the pipeline's own goroutine, read after done closes
	outcome *domain.IngestError
	size    int64
}

// Ingest runs the full fan-out for one upload. It returns once the
// primary variant committed (secondaries keep running out-of-band) or,
// on primary failure, after every opened sink was aborted and its id
// deleted.
func (c *Coordinator) Ingest(ctx context.Context, req *domain.UploadRequest) (*domain.IngestResult, error) {
	if req.Source == nil {
		return nil, domain.NewIngestError(domain.KindValidation, "", domain.ErrFileRequired)
	}
	if err := c.checkMediaType(req); err != nil {
		return nil, err
	}

	uploadCtx := req.Context
	if uploadCtx == "" {
		uploadCtx = domain.ContextGeneric
	}
	specs := c.planner.Plan(req.Class, uploadCtx)
	name := sanitize.Filename(req.OriginalFilename)

	split := newSplitter(req.Source, len(specs), c.opts.BufferChunks)

	// Open every sink in plan order so storage id allocation order is
	// deterministic regardless of completion order. Secondaries get a
	// context detached from the request so they survive the response.
	pipelines := make([]*pipeline, 0, len(specs))
	for i, spec := range specs {
		var vctx context.Context
		var cancel context.CancelFunc
		if spec.Primary {
			vctx, cancel = context.WithTimeout(ctx, c.opts.VariantTimeout)
		} else {
			vctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), c.opts.VariantTimeout)
		}

		sink, id, err := c.store.Open(vctx, name)
		if err != nil {
			cancel()
			// No pipeline goroutines are running yet; release the
			// sinks opened so far directly.
			for _, p := range pipelines {
				p.cancel()
				p.sink.Abort()
			}
			c.compensate(ctx, pipelines)
			return nil, domain.NewIngestError(domain.KindStore, spec.Label, fmt.Errorf("open sink: %w", err))
		}
		pipelines = append(pipelines, &pipeline{
			spec:   spec,
			name:   name,
			handle: &domain.VariantHandle{Label: spec.Label, StorageID: id, State: domain.VariantPending},
			sink:   sink,
			ctx:    vctx,
			cancel: cancel,
			src:    split.Reader(i),
			done:   make(chan struct{}),
		})
	}

	go split.Run()

	for _, p := range pipelines {
		go c.runVariant(p)
	}

	primary := pipelines[0]
	<-primary.done

	if primary.outcome != nil {
		c.abortAll(ctx, pipelines, primary.done)
		if srcErr := split.SourceErr(); srcErr != nil {
			return nil, domain.NewIngestError(domain.KindSource, primary.spec.Label, srcErr)
		}
		return nil, primary.outcome
	}

	return assemble(pipelines, name), nil
}

func (c *Coordinator) checkMediaType(req *domain.UploadRequest) error {
	re, ok := domain.AllowedMediaTypes[req.Class]
	if !ok {
		return domain.NewIngestError(domain.KindValidation, "", fmt.Errorf("unknown content class %q", req.Class))
	}
	declared := strings.ToLower(strings.TrimSpace(req.DeclaredType))
	if !re.MatchString(declared) {
		return domain.NewIngestError(domain.KindValidation, "",
			fmt.Errorf("%w: %s for class %s", domain.ErrUnsupportedMediaType, req.DeclaredType, req.Class))
	}
	return nil
}

// runVariant drives one variant from its live source copy to its
// terminal state. Only this goroutine mutates the pipeline's handle,
// and never out of a terminal state.
func (c *Coordinator) runVariant(p *pipeline) {
	defer close(p.done)
	defer p.cancel()

	p.handle.State = domain.VariantWriting

	errc := make(chan *domain.IngestError, 1)
	go func() {
		errc <- c.pump(p)
	}()

	var outcome *domain.IngestError
	select {
	case outcome = <-errc:
	case <-p.ctx.Done():
		// Detach the consumer and poison the sink so the pump
		// unblocks; siblings are unaffected.
		p.src.Close()
		p.sink.Abort()
		<-errc
		kind := domain.KindTimeout
		if errors.Is(p.ctx.Err(), context.Canceled) {
			// Cancelled from outside, not timed out: the request was
			// aborted or the ingestion is being torn down.
			kind = domain.KindSource
		}
		outcome = domain.NewIngestError(kind, p.spec.Label, p.ctx.Err())
	}

	if outcome == nil {
		// Detach the consumer even on success: a transform may commit
		// without consuming trailing source bytes, and a full buffer
		// would stall the splitter for the siblings.
		p.src.Close()
		p.handle.State = domain.VariantCommitted
	} else {
		p.sink.Abort()
		p.src.Close()
		p.outcome = outcome
		p.handle.State = domain.VariantFailed
		p.handle.Err = outcome
	}

	c.notify(p)
}

// pump streams the (possibly transformed) variant bytes into the sink
// and commits. Read-side failures are transform errors, write/commit
// failures store errors.
func (c *Coordinator) pump(p *pipeline) *domain.IngestError {
	stream, err := c.engine.Run(p.ctx, p.src, p.spec)
	if err != nil {
		return domain.NewIngestError(domain.KindTransform, p.spec.Label, err)
	}
	defer stream.Close()

	buf := make([]byte, splitChunkSize)
	for {
		n, rerr := stream.Read(buf)
		if n > 0 {
			if _, werr := p.sink.Write(buf[:n]); werr != nil {
				return domain.NewIngestError(domain.KindStore, p.spec.Label, werr)
			}
			p.size += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return domain.NewIngestError(domain.KindTransform, p.spec.Label, rerr)
		}
	}

	if err := p.sink.Commit(p.ctx); err != nil {
		return domain.NewIngestError(domain.KindStore, p.spec.Label, err)
	}
	return nil
}

func (c *Coordinator) notify(p *pipeline) {
	event := VariantEvent{
		Label:          p.spec.Label,
		StorageID:      p.handle.StorageID,
		StoredFilename: p.name,
		State:          p.handle.State,
		Size:           p.size,
	}
	if p.outcome != nil {
		event.Err = p.outcome
		c.log.Warn().
			Str("label", p.spec.Label).
			Str("storage_id", p.handle.StorageID).
			Err(p.outcome).
			Msg("variant pipeline failed")
	} else {
		c.log.Debug().
			Str("label", p.spec.Label).
			Str("storage_id", p.handle.StorageID).
			Int64("size", p.size).
			Msg("variant committed")
	}
	if c.observer != nil {
		c.observer(event)
	}
}

// abortAll cancels every pipeline, waits for them to settle and issues
// one compensating delete per allocated id. skip is the done channel
// of a pipeline already known to be terminal.
func (c *Coordinator) abortAll(ctx context.Context, pipelines []*pipeline, skip chan struct{}) {
	for _, p := range pipelines {
		p.cancel()
	}
	for _, p := range pipelines {
		if p.done == skip {
			continue
		}
		<-p.done
	}
	c.compensate(ctx, pipelines)
}

// compensate issues one best-effort delete per allocated id. A failed
// delete is logged, never retried, and never changes the outer error.
func (c *Coordinator) compensate(ctx context.Context, pipelines []*pipeline) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(cleanupCtx)
	for _, p := range pipelines {
		id := p.handle.StorageID
		label := p.spec.Label
		g.Go(func() error {
			if err := c.store.Delete(gctx, id); err != nil {
				c.log.Warn().Str("label", label).Str("storage_id", id).Err(err).
					Msg("compensating delete failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
