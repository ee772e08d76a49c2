// Package pipeline drives a single image from selection to prediction and
// publishes every state change to its observers.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/pet-classifier/internal/decode"
	"github.com/Brownie44l1/pet-classifier/internal/logging"
	"github.com/Brownie44l1/pet-classifier/internal/metrics"
	"github.com/Brownie44l1/pet-classifier/internal/model"
	"github.com/Brownie44l1/pet-classifier/internal/preprocess"
	"github.com/Brownie44l1/pet-classifier/internal/present"
)

// Decoder turns selected bytes into a bitmap.
type Decoder interface {
	Decode(data []byte, mediaType string) (*decode.Image, error)
}

// Preprocessor converts a bitmap into the classifier's input tensor.
type Preprocessor interface {
	Prepare(img *decode.Image, spec preprocess.TargetSpec) (*preprocess.Buffer, error)
}

// Classifier runs the model. Implementations must be safe for concurrent use.
type Classifier interface {
	InputSpec() preprocess.TargetSpec
	Predict(ctx context.Context, buf *preprocess.Buffer) (*model.Probabilities, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics records transitions and outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithInferenceTimeout bounds each prediction. Zero means no limit.
func WithInferenceTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// selection is the image currently owned by the controller. image is nil
// while the bytes are still being acquired.
type selection struct {
	id        string
	data      []byte
	mediaType string
	image     *decode.Image
}

// Controller owns the pipeline state. Every transition happens under mu;
// acquisition and inference run on their own goroutines and only apply
// their outcome if they are still current when they finish.
type Controller struct {
	decoder      Decoder
	preprocessor Preprocessor
	classifier   Classifier
	logger       *zap.Logger
	metrics      *metrics.Metrics
	timeout      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	current   *selection
	requestID string
	buffer    *preprocess.Buffer
	probs     *model.Probabilities
	view      *present.View
	failure   *Failure
	closed    bool

	subscribers map[int]chan Snapshot
	nextSub     int
}

// New creates an Idle controller.
func New(decoder Decoder, preprocessor Preprocessor, classifier Classifier, logger *zap.Logger, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		decoder:      decoder,
		preprocessor: preprocessor,
		classifier:   classifier,
		logger:       logger.Named("pipeline"),
		ctx:          ctx,
		cancel:       cancel,
		subscribers:  make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics.SetState(Idle.String(), allStates)
	return c
}

// Select replaces the current image with src and starts acquiring it. Any
// prediction still running for the previous image is discarded when it
// completes. It returns the new selection id, or "" after Close.
func (c *Controller) Select(src Source) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ""
	}

	sel := &selection{id: uuid.NewString()}
	c.current = sel
	c.requestID = ""
	c.clearResult()
	c.failure = nil
	c.metrics.Selection()
	c.setState(AcquiringImage)

	c.wg.Add(1)
	go c.acquire(sel, src)
	return sel.id
}

func (c *Controller) acquire(sel *selection, src Source) {
	defer c.wg.Done()
	logger := logging.WithOperation(c.logger, "acquire", sel.id)

	data, mediaType, err := src.Load(c.ctx)
	if err != nil {
		var selErr *SelectionError
		if !errors.As(err, &selErr) {
			err = &SelectionError{Err: err}
		}
		c.failAcquire(sel, logger, logging.NewOperationError("acquire image", sel.id, err))
		return
	}

	img, err := c.decoder.Decode(data, mediaType)
	if err != nil {
		c.failAcquire(sel, logger, logging.NewOperationError("decode image", sel.id, err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != sel {
		c.metrics.Stale(metrics.StageAcquire)
		logger.Info("discarding superseded image")
		return
	}
	sel.data = data
	sel.mediaType = mediaType
	sel.image = img
	logger.Debug("image ready",
		zap.String("format", img.Format()),
		zap.Int("width", img.Width()),
		zap.Int("height", img.Height()))
	c.setState(Ready)
}

func (c *Controller) failAcquire(sel *selection, logger *zap.Logger, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != sel {
		c.metrics.Stale(metrics.StageAcquire)
		logger.Info("discarding failure for superseded image", zap.Error(err))
		return
	}
	c.current = nil
	c.fail(logger, err)
}

// Predict starts a prediction for the current image. It returns false and
// changes nothing when there is no decoded image or a prediction is
// already running.
func (c *Controller) Predict() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.current == nil || c.current.image == nil || c.requestID != "" {
		c.metrics.PredictIgnored()
		return false
	}
	switch c.state {
	case Ready, ResultAvailable, Failed:
	default:
		c.metrics.PredictIgnored()
		return false
	}

	requestID := uuid.NewString()
	c.requestID = requestID
	c.failure = nil
	c.setState(Predicting)

	c.wg.Add(1)
	go c.predict(c.current, requestID)
	return true
}

func (c *Controller) predict(sel *selection, requestID string) {
	defer c.wg.Done()
	logger := logging.WithOperation(c.logger, "predict", requestID).With(zap.String("image_id", sel.id))

	ctx := c.ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	buf, err := c.preprocessor.Prepare(sel.image, c.classifier.InputSpec())
	var probs *model.Probabilities
	if err == nil {
		probs, err = c.classifier.Predict(ctx, buf)
	}
	elapsed := time.Since(start)
	c.metrics.ObserveInference(elapsed)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != sel || c.requestID != requestID {
		c.metrics.Stale(metrics.StagePredict)
		logger.Info("discarding stale prediction", zap.Duration("elapsed", elapsed))
		return
	}
	c.requestID = ""

	if err != nil {
		c.clearResult()
		c.metrics.Prediction(metrics.OutcomeFailure)
		c.fail(logger, logging.NewOperationError("predict", requestID, err))
		return
	}

	view := present.Present(*probs)
	c.buffer = buf
	c.probs = probs
	c.view = &view
	c.metrics.Prediction(metrics.OutcomeSuccess)
	logger.Info("prediction complete",
		zap.String("top", view.Top),
		zap.Any("probabilities", probs.Map()),
		zap.Duration("elapsed", elapsed))
	c.setState(ResultAvailable)
}

// Remove drops the current image and everything derived from it. In-flight
// work for it is discarded on completion. It returns false when already Idle.
func (c *Controller) Remove() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return false
	}
	c.current = nil
	c.requestID = ""
	c.clearResult()
	c.failure = nil
	c.setState(Idle)
	return true
}

// Dismiss acknowledges a failure. The pipeline returns to the state the
// remaining selection supports.
func (c *Controller) Dismiss() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Failed {
		return false
	}
	c.failure = nil
	switch {
	case c.current == nil || c.current.image == nil:
		c.setState(Idle)
	case c.view != nil:
		c.setState(ResultAvailable)
	default:
		c.setState(Ready)
	}
	return true
}

// Snapshot returns the current presentation state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Subscribe returns a channel receiving a snapshot after every transition,
// starting with the current one. Updates are dropped when the channel is
// full. The returned func unsubscribes and closes the channel.
func (c *Controller) Subscribe(buffer int) (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Snapshot, max(buffer, 1))
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	ch <- c.snapshot()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

// Wait blocks until no acquisition or prediction is running.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels outstanding acquisitions, waits for running work and closes
// every subscription. The controller ignores further requests.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
}

func (c *Controller) clearResult() {
	c.buffer = nil
	c.probs = nil
	c.view = nil
}

func (c *Controller) fail(logger *zap.Logger, err error) {
	f := Classify(err)
	c.failure = &f
	c.metrics.Failure(string(f.Kind))
	logger.Warn("pipeline failed", zap.String("kind", string(f.Kind)), zap.Error(err))
	c.setState(Failed)
}

// setState must be called with mu held.
func (c *Controller) setState(s State) {
	c.state = s
	c.metrics.SetState(s.String(), allStates)
	if len(c.subscribers) == 0 {
		return
	}
	snap := c.snapshot()
	for _, ch := range c.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Controller) snapshot() Snapshot {
	snap := Snapshot{State: c.state, Busy: c.state.busy()}
	if c.current != nil {
		snap.ImageID = c.current.id
		if img := c.current.image; img != nil {
			snap.Image = &ImageInfo{Width: img.Width(), Height: img.Height(), Format: img.Format()}
		}
	}
	if c.view != nil {
		view := *c.view
		view.Entries = append([]present.Entry(nil), c.view.Entries...)
		snap.Result = &view
	}
	if c.failure != nil {
		snap.Error = c.failure.Message
		snap.Failure = c.failure.Kind
	}
	return snap
}
