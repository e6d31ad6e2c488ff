package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dfryer1193/imagemerge/gallery/chromakey"
	"github.com/dfryer1193/imagemerge/gallery/codec"
	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/dfryer1193/imagemerge/gallery/raster"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrent = 4

// ErrClosed is returned by Merge once Close has been called.
var ErrClosed = errors.New("merge service is closed")

// MergeOptions configures the codec on both sides of the compositor.
type MergeOptions struct {
	Decode codec.DecodeOptions
	Encode codec.EncodeOptions
}

// MergeRequest names the two stored images and the background key.
type MergeRequest struct {
	FrontID string
	BackID  string
	Key     chromakey.Key
}

type MergeService struct {
	repo domain.ImageRepository
	opts MergeOptions
	sem  *semaphore.Weighted

	// Service lifecycle context - cancelled when Close() is called
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	// mu orders wg.Add against Close so no encoder starts after Wait.
	mu     sync.Mutex
	closed bool
}

// NewMergeService creates the merge orchestrator. At most maxConcurrent
// merges hold decoded frames at once; further requests wait for a slot.
func NewMergeService(repo domain.ImageRepository, opts MergeOptions, maxConcurrent int) *MergeService {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &MergeService{
		repo:   repo,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:    ctx,
		cancel: cancel,
		wg:     &sync.WaitGroup{},
	}
}

// Close cancels every in-flight merge and waits for their encoders to exit.
func (s *MergeService) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	return nil
}

// Merge resolves both ids, decodes them and checks their dimensions before
// returning. Encoding then runs in the background and is read through the
// returned stream.
//
// Every error returned here happens before the first output byte. Errors after
// that point surface as a read error on the stream; by then the caller may
// already have forwarded part of the image.
func (s *MergeService) Merge(ctx context.Context, req MergeRequest) (*MergeStream, error) {
	run := newMergeRun(req)

	if s.ctx.Err() != nil {
		return nil, run.fail(ErrClosed)
	}
	if err := req.Key.Validate(); err != nil {
		return nil, run.fail(err)
	}

	if err := ctx.Err(); err != nil {
		return nil, run.fail(err)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, run.fail(err)
	}
	release := sync.OnceFunc(func() { s.sem.Release(1) })

	front, back, err := s.resolve(ctx, req)
	if err != nil {
		release()
		return nil, run.fail(err)
	}

	run.enter(StateDecoding)
	frontSrc, backSrc, err := decodePair(ctx, front, back, s.opts.Decode)
	front.Close()
	back.Close()
	if err != nil {
		release()
		return nil, run.fail(err)
	}

	run.enter(StateCompositing)
	merged, err := chromakey.New(frontSrc, backSrc, req.Key)
	if err != nil {
		release()
		return nil, run.fail(err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		release()
		return nil, run.fail(ErrClosed)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	run.enter(StateEncoding)
	pipeCtx, cancel := context.WithCancel(ctx)
	stopOnClose := context.AfterFunc(s.ctx, cancel)
	pr, pw := io.Pipe()

	go func() {
		defer s.wg.Done()
		defer release()
		defer stopOnClose()
		defer cancel()

		err := codec.Encode(pipeCtx, pw, merged, s.opts.Encode)
		if err != nil {
			run.fail(err)
		} else {
			run.done()
		}
		pw.CloseWithError(err)
	}()

	return &MergeStream{r: pr, cancel: cancel, dims: merged.Dimensions()}, nil
}

func (s *MergeService) resolve(ctx context.Context, req MergeRequest) (io.ReadCloser, io.ReadCloser, error) {
	front, _, err := s.repo.Open(ctx, req.FrontID)
	if err != nil {
		return nil, nil, missing(domain.Front, req.FrontID, err)
	}

	back, _, err := s.repo.Open(ctx, req.BackID)
	if err != nil {
		front.Close()
		return nil, nil, missing(domain.Back, req.BackID, err)
	}

	return front, back, nil
}

func missing(side domain.Side, id string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.MissingImageError{Side: side, ID: id}
	}
	return fmt.Errorf("failed to open %s image: %w", side, err)
}

// Composite runs the whole pipeline over two JPEG streams and writes the
// result to w. Bytes reach w while compositing is still in progress.
func Composite(ctx context.Context, w io.Writer, front, back io.Reader, key chromakey.Key, opts MergeOptions) error {
	if err := key.Validate(); err != nil {
		return err
	}

	frontSrc, backSrc, err := decodePair(ctx, front, back, opts.Decode)
	if err != nil {
		return err
	}

	merged, err := chromakey.New(frontSrc, backSrc, key)
	if err != nil {
		return err
	}

	return codec.Encode(ctx, w, merged, opts.Encode)
}

// decodePair decodes both inputs concurrently and fails with the first error.
func decodePair(ctx context.Context, front, back io.Reader, opts codec.DecodeOptions) (*codec.Decoded, *codec.Decoded, error) {
	var frontSrc, backSrc *codec.Decoded

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := codec.Decode(gctx, front, opts)
		if err != nil {
			return fmt.Errorf("%s image: %w", domain.Front, err)
		}
		frontSrc = d
		return nil
	})
	g.Go(func() error {
		d, err := codec.Decode(gctx, back, opts)
		if err != nil {
			return fmt.Errorf("%s image: %w", domain.Back, err)
		}
		backSrc = d
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return frontSrc, backSrc, nil
}

// MergeStream is the encoded output of a merge. Close stops the pipeline;
// it must be called even after reading to EOF.
type MergeStream struct {
	r      *io.PipeReader
	cancel context.CancelFunc
	dims   raster.Dimensions
}

func (m *MergeStream) Read(p []byte) (int, error) {
	return m.r.Read(p)
}

func (m *MergeStream) Close() error {
	m.cancel()
	return m.r.Close()
}

// Dimensions returns the size of the merged image.
func (m *MergeStream) Dimensions() raster.Dimensions {
	return m.dims
}
