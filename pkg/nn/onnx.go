package nn

import (
	"fmt"
	"math"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Etcaqab/lc0/pkg/chess"
)

const (
	DefaultBatchSize    = 64
	DefaultBatchTimeout = 1 * time.Millisecond

	// Value head width: win / draw / loss.
	wdlSize = 3
	mlhSize = 1
)

// OnnxConfig tunes the batching loop of an Onnx evaluator.
type OnnxConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
}

type onnxRequest struct {
	input    []float32
	respChan chan onnxResponse
}

type onnxResponse struct {
	policy []float32
	wdl    []float32
	mlh    []float32
	err    error
}

// Onnx evaluates positions with an ONNX Runtime session. Evaluate calls from
// many goroutines are gathered by a batching loop and executed as a single
// inference per batch.
type Onnx struct {
	session  *ort.DynamicAdvancedSession
	requests chan onnxRequest
	done     chan struct{}
	cfg      OnnxConfig
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// NewOnnx loads the model and starts the batching loop.
func NewOnnx(modelPath string) (*Onnx, error) {
	return NewOnnxWithConfig(modelPath, OnnxConfig{
		BatchSize:    DefaultBatchSize,
		BatchTimeout: DefaultBatchTimeout,
	})
}

func NewOnnxWithConfig(modelPath string, cfg OnnxConfig) (*Onnx, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("nn: init onnxruntime: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"input"},
		[]string{"policy", "wdl", "mlh"},
		options)
	if err != nil {
		return nil, fmt.Errorf("nn: create session: %w", err)
	}

	o := &Onnx{
		session:  session,
		requests: make(chan onnxRequest, cfg.BatchSize*2),
		done:     make(chan struct{}),
		cfg:      cfg,
	}
	go o.batchLoop()
	return o, nil
}

// Close stops the batching loop and destroys the session.
func (o *Onnx) Close() error {
	close(o.done)
	return o.session.Destroy()
}

// Evaluate encodes the position, queues it for the next batch and blocks
// until the inference result is back.
func (o *Onnx) Evaluate(pos chess.Position, moves []chess.Move) (Output, error) {
	input := make([]float32, InputSize)
	encodePosition(pos, input)

	respChan := make(chan onnxResponse, 1)
	o.requests <- onnxRequest{input: input, respChan: respChan}
	resp := <-respChan
	if resp.err != nil {
		return Output{}, resp.err
	}

	black := pos.IsBlackToMove()
	out := Output{
		Value:     resp.wdl[0] - resp.wdl[2],
		Draw:      resp.wdl[1],
		MovesLeft: resp.mlh[0],
		Priors:    make([]float32, len(moves)),
	}

	// Softmax over the legal moves' logits only.
	maxLogit := float32(math.Inf(-1))
	for _, m := range moves {
		if l := resp.policy[policyIndex(m, black)]; l > maxLogit {
			maxLogit = l
		}
	}
	var sum float32
	for i, m := range moves {
		e := float32(math.Exp(float64(resp.policy[policyIndex(m, black)] - maxLogit)))
		out.Priors[i] = e
		sum += e
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range out.Priors {
			out.Priors[i] *= inv
		}
	}
	return out, nil
}

func (o *Onnx) batchLoop() {
	batchInput := make([]float32, 0, o.cfg.BatchSize*InputSize)
	requests := make([]onnxRequest, 0, o.cfg.BatchSize)

	ticker := time.NewTicker(o.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case req := <-o.requests:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)
			if len(requests) >= o.cfg.BatchSize {
				o.runBatch(requests, batchInput)
				requests = requests[:0]
				batchInput = batchInput[:0]
			}
		case <-ticker.C:
			if len(requests) > 0 {
				o.runBatch(requests, batchInput)
				requests = requests[:0]
				batchInput = batchInput[:0]
			}
		}
	}
}

func (o *Onnx) runBatch(requests []onnxRequest, batchInput []float32) {
	batch := int64(len(requests))

	inputTensor, err := ort.NewTensor(ort.NewShape(batch, InputPlanes, 8, 8), batchInput)
	if err != nil {
		o.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, PolicySize))
	if err != nil {
		o.failBatch(requests, err)
		return
	}
	defer policyTensor.Destroy()

	wdlTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, wdlSize))
	if err != nil {
		o.failBatch(requests, err)
		return
	}
	defer wdlTensor.Destroy()

	mlhTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, mlhSize))
	if err != nil {
		o.failBatch(requests, err)
		return
	}
	defer mlhTensor.Destroy()

	err = o.session.Run(
		[]ort.Value{inputTensor},
		[]ort.Value{policyTensor, wdlTensor, mlhTensor})
	if err != nil {
		o.failBatch(requests, err)
		return
	}

	policyData := policyTensor.GetData()
	wdlData := wdlTensor.GetData()
	mlhData := mlhTensor.GetData()

	for i, req := range requests {
		policy := make([]float32, PolicySize)
		copy(policy, policyData[i*PolicySize:(i+1)*PolicySize])
		wdl := make([]float32, wdlSize)
		copy(wdl, wdlData[i*wdlSize:(i+1)*wdlSize])
		mlh := make([]float32, mlhSize)
		copy(mlh, mlhData[i*mlhSize:(i+1)*mlhSize])

		req.respChan <- onnxResponse{policy: policy, wdl: wdl, mlh: mlh}
	}
}

func (o *Onnx) failBatch(requests []onnxRequest, err error) {
	for _, req := range requests {
		req.respChan <- onnxResponse{err: err}
	}
}
