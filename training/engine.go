package training

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/tsawler/go-activity/checkpoints"
	"github.com/tsawler/go-activity/models"
	"github.com/tsawler/go-activity/tensor"
)

// Phase identifies one full pass over a data split within an epoch.
type Phase int

const (
	TrainPhase Phase = iota
	ValPhase
	TestPhase
)

func (p Phase) String() string {
	switch p {
	case TrainPhase:
		return "train"
	case ValPhase:
		return "val"
	case TestPhase:
		return "test"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// label returns the phase name used in epoch summary lines.
func (p Phase) label() string {
	switch p {
	case TrainPhase:
		return "Training"
	case ValPhase:
		return "Valing"
	case TestPhase:
		return "Testing"
	default:
		return p.String()
	}
}

// BestAccuracyTracker tracks the best validation top-1 accuracy seen
// across a run. The value starts at 0 and only ever increases. It is an
// explicit state object owned by the engine, not a package global.
// TryUpdate performs the improvement check and the raise under a single
// lock acquisition, so concurrent callers cannot both win for the same
// observation; ShouldSave and Update are separate reads and writes and
// carry no such guarantee.
type BestAccuracyTracker struct {
	mu   sync.Mutex
	best float64
}

// NewBestAccuracyTracker creates a tracker with best accuracy 0.
func NewBestAccuracyTracker() *BestAccuracyTracker {
	return &BestAccuracyTracker{}
}

// ShouldSave reports whether acc strictly exceeds the best seen so far.
func (t *BestAccuracyTracker) ShouldSave(acc float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return acc > t.best
}

// Update raises the best accuracy. Values at or below the current best
// are ignored, so the tracked value is monotonic.
func (t *BestAccuracyTracker) Update(acc float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if acc > t.best {
		t.best = acc
	}
}

// TryUpdate raises the best accuracy if acc strictly exceeds it and
// reports whether it did. Check and raise happen under one lock, so at
// most one of several concurrent callers observes true for a given
// accuracy value.
func (t *BestAccuracyTracker) TryUpdate(acc float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if acc <= t.best {
		return false
	}
	t.best = acc
	return true
}

// Best returns the best accuracy recorded so far.
func (t *BestAccuracyTracker) Best() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.best
}

// EngineConfig holds configuration for the training engine.
type EngineConfig struct {
	DataType  string // dataset tag, e.g. "ucf101"; names the output files
	ModelType string // model tag, e.g. "stts-a"; names the output files
	Epochs    int
	OutputDir string // directory for the checkpoint and statistics files

	TopK []int // accuracy ks; defaults to {1, 5}

	// Plateau scheduler knobs; zero values select the defaults
	// (factor 0.1, patience 10, threshold 1e-4).
	SchedulerFactor    float64
	SchedulerPatience  int
	SchedulerThreshold float64

	Silent bool // suppress progress bars and epoch summary lines
}

func (c *EngineConfig) validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epoch count must be positive, got %d", c.Epochs)
	}
	if c.DataType == "" || c.ModelType == "" {
		return fmt.Errorf("data type and model type must be set")
	}
	if len(c.TopK) == 0 {
		c.TopK = []int{1, 5}
	}
	return nil
}

// Engine drives the epoch loop: for every epoch it runs the train phase,
// the validation phase, the checkpoint decision, the scheduler step and
// the test phase, then persists the statistics table. Phases share one
// set of meters, reset at every phase boundary.
type Engine struct {
	config    EngineConfig
	model     models.Model
	optimizer Optimizer
	criterion *CrossEntropyLoss
	scheduler *ReduceLROnPlateauScheduler
	recorder  *StatsRecorder
	saver     *checkpoints.CheckpointSaver
	best      *BestAccuracyTracker
	observers []MetricObserver

	numClasses int
	lossMeter  *AverageMeter
	accMeter   *TopKAccuracyMeter
	confMeter  *ConfusionMeter

	trainLoader *DataLoader
	valLoader   *DataLoader
	testLoader  *DataLoader
}

// NewEngine creates a training engine. numClasses must match the model's
// output width; it is normally the size of the dataset's label-to-index
// mapping.
func NewEngine(
	model models.Model,
	optimizer Optimizer,
	numClasses int,
	trainLoader, valLoader, testLoader *DataLoader,
	config EngineConfig,
) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if model == nil || optimizer == nil {
		return nil, fmt.Errorf("model and optimizer must be set")
	}
	if trainLoader == nil || valLoader == nil || testLoader == nil {
		return nil, fmt.Errorf("train, val and test loaders must all be set")
	}
	if numClasses < 2 {
		return nil, fmt.Errorf("num classes must be at least 2, got %d", numClasses)
	}

	accMeter, err := NewTopKAccuracyMeter(config.TopK)
	if err != nil {
		return nil, err
	}
	confMeter, err := NewConfusionMeter(numClasses, true)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:      config,
		model:       model,
		optimizer:   optimizer,
		criterion:   NewCrossEntropyLoss("mean"),
		scheduler:   NewReduceLROnPlateauScheduler(config.SchedulerFactor, config.SchedulerPatience, config.SchedulerThreshold, "min"),
		recorder:    NewStatsRecorder(),
		saver:       checkpoints.NewCheckpointSaver(checkpoints.FormatBinary),
		best:        NewBestAccuracyTracker(),
		numClasses:  numClasses,
		lossMeter:   NewAverageMeter(),
		accMeter:    accMeter,
		confMeter:   confMeter,
		trainLoader: trainLoader,
		valLoader:   valLoader,
		testLoader:  testLoader,
	}, nil
}

// AddObserver registers a metric observer. Observers are invoked
// sequentially in registration order after every phase.
func (e *Engine) AddObserver(o MetricObserver) {
	e.observers = append(e.observers, o)
}

// Recorder exposes the accumulated statistics table.
func (e *Engine) Recorder() *StatsRecorder {
	return e.recorder
}

// Best exposes the best-validation-accuracy tracker.
func (e *Engine) Best() *BestAccuracyTracker {
	return e.best
}

// CheckpointPath returns the best-model artifact path.
func (e *Engine) CheckpointPath() string {
	return filepath.Join(e.config.OutputDir, fmt.Sprintf("%s_%s.pth", e.config.DataType, e.config.ModelType))
}

// StatsPath returns the statistics table path.
func (e *Engine) StatsPath() string {
	return filepath.Join(e.config.OutputDir, fmt.Sprintf("%s_%s_results.csv", e.config.DataType, e.config.ModelType))
}

// resetMeters clears all accumulators. Called immediately before every
// phase so no state leaks across phases or epochs.
func (e *Engine) resetMeters() {
	e.lossMeter.Reset()
	e.accMeter.Reset()
	e.confMeter.Reset()
}

// processBatch runs one forward pass: it validates the batch, switches
// the model into the requested mode and computes loss and logits. It
// never steps the optimizer and never touches the meters; those effects
// belong to runPhase.
func (e *Engine) processBatch(batch *Batch, training bool) (float64, *tensor.Tensor, error) {
	if batch.Data.Shape[0] != batch.Labels.Shape[0] {
		return 0, nil, fmt.Errorf("batch size mismatch: %d data rows, %d labels", batch.Data.Shape[0], batch.Labels.Shape[0])
	}

	if training {
		e.model.Train()
	} else {
		e.model.Eval()
	}

	logits, err := e.model.Forward(batch.Data)
	if err != nil {
		return 0, nil, fmt.Errorf("forward pass failed: %v", err)
	}

	lossTensor, err := e.criterion.Forward(logits, batch.Labels)
	if err != nil {
		return 0, nil, fmt.Errorf("loss computation failed: %v", err)
	}

	loss := float64(lossTensor.Data.([]float32)[0])
	return loss, logits, nil
}

// runPhase executes one full pass over a loader. Gradient steps happen
// here, and only when training is true; evaluation passes never invoke
// Backward or Step, so parameters cannot change outside the train phase.
func (e *Engine) runPhase(loader *DataLoader, phase Phase, training bool) error {
	e.resetMeters()
	loader.Reset()

	var pb *ProgressBar
	if !e.config.Silent {
		pb = NewProgressBar(phase.String(), loader.Len())
	}

	step := 0
	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return fmt.Errorf("%s phase: %v", phase, err)
		}
		if batch == nil {
			break
		}

		loss, logits, err := e.processBatch(batch, training)
		if err != nil {
			return fmt.Errorf("%s phase: %v", phase, err)
		}

		if training {
			e.optimizer.ZeroGrad()

			gradLogits, err := e.criterion.Backward(logits, batch.Labels)
			if err != nil {
				return fmt.Errorf("%s phase: loss backward failed: %v", phase, err)
			}
			if err := e.model.Backward(gradLogits); err != nil {
				return fmt.Errorf("%s phase: model backward failed: %v", phase, err)
			}
			if err := e.optimizer.Step(); err != nil {
				return fmt.Errorf("%s phase: optimizer step failed: %v", phase, err)
			}
		}

		e.lossMeter.Add(loss)
		if err := e.accMeter.Add(logits, batch.Labels); err != nil {
			return fmt.Errorf("%s phase: accuracy meter: %v", phase, err)
		}
		if err := e.confMeter.Add(logits, batch.Labels); err != nil {
			return fmt.Errorf("%s phase: confusion meter: %v", phase, err)
		}

		step++
		if pb != nil {
			acc := e.accMeter.Value()
			pb.Update(step, map[string]float64{
				"loss":     e.lossMeter.Value(),
				"top1_acc": acc[0],
			})
		}
	}

	if pb != nil {
		pb.Finish()
	}
	return nil
}

// phaseMetrics reads the meters into an immutable metrics record.
func (e *Engine) phaseMetrics() PhaseMetrics {
	acc := e.accMeter.Value()

	pm := PhaseMetrics{
		Loss:      e.lossMeter.Value(),
		Top1:      acc[0],
		Confusion: e.confMeter.Value(),
	}
	if len(acc) > 1 {
		pm.Top5 = acc[1]
	}
	return pm
}

// logPhase reports a completed phase to the observers and the console.
func (e *Engine) logPhase(epoch int, phase Phase, pm PhaseMetrics) {
	for _, o := range e.observers {
		o.LogScalar(epoch, pm.Loss, "loss", phase.String())
		o.LogScalar(epoch, pm.Top1, "top1_accuracy", phase.String())
		o.LogScalar(epoch, pm.Top5, "top5_accuracy", phase.String())
		o.LogMatrix(epoch, pm.Confusion, "confusion_matrix", phase.String())
	}

	if !e.config.Silent {
		fmt.Printf("[Epoch %d] %s Loss: %.4f Top1 Accuracy: %.2f%% Top5 Accuracy: %.2f%%\n",
			epoch, phase.label(), pm.Loss, pm.Top1, pm.Top5)
	}
}

// saveCheckpoint snapshots the model weights to the best-model artifact.
func (e *Engine) saveCheckpoint(epoch int) error {
	weights, err := checkpoints.ExtractWeights(e.model.Parameters())
	if err != nil {
		return fmt.Errorf("failed to extract weights: %v", err)
	}

	checkpoint := &checkpoints.Checkpoint{
		DataType:   e.config.DataType,
		ModelType:  e.config.ModelType,
		NumClasses: e.numClasses,
		Weights:    weights,
		TrainingState: checkpoints.TrainingState{
			Epoch:        epoch,
			LearningRate: e.optimizer.GetLR(),
			BestAccuracy: e.best.Best(),
		},
	}

	return e.saver.SaveCheckpoint(checkpoint, e.CheckpointPath())
}

// RunEpoch executes one complete epoch: train, validate, checkpoint
// decision, scheduler step, test, then statistics persistence. Epochs
// are numbered from 1.
func (e *Engine) RunEpoch(epoch int) (EpochResult, error) {
	var result EpochResult

	// Train phase
	if err := e.runPhase(e.trainLoader, TrainPhase, true); err != nil {
		return result, err
	}
	trainMetrics := e.phaseMetrics()
	e.logPhase(epoch, TrainPhase, trainMetrics)

	// Validation phase
	if err := e.runPhase(e.valLoader, ValPhase, false); err != nil {
		return result, err
	}
	valMetrics := e.phaseMetrics()
	e.logPhase(epoch, ValPhase, valMetrics)

	// Checkpoint decision: save only on a strict improvement of the
	// validation top-1 accuracy. The tracker update and the improvement
	// check are a single atomic operation, so the save can never be
	// claimed twice for one observation.
	if e.best.TryUpdate(valMetrics.Top1) {
		if err := e.saveCheckpoint(epoch); err != nil {
			return result, err
		}
	}

	// Scheduler step: exactly once per epoch, monitoring the validation
	// loss, after the checkpoint decision and before the test phase.
	newLR := e.scheduler.Step(valMetrics.Loss, e.optimizer.GetLR())
	if newLR != e.optimizer.GetLR() {
		e.optimizer.SetLR(newLR)
		if !e.config.Silent {
			fmt.Printf("[Epoch %d] Reducing learning rate to %g\n", epoch, newLR)
		}
	}

	// Test phase
	if err := e.runPhase(e.testLoader, TestPhase, false); err != nil {
		return result, err
	}
	testMetrics := e.phaseMetrics()
	e.logPhase(epoch, TestPhase, testMetrics)

	result = EpochResult{
		Epoch: epoch,
		Train: trainMetrics,
		Val:   valMetrics,
		Test:  testMetrics,
	}

	if err := e.recorder.Append(result); err != nil {
		return result, err
	}
	if err := e.recorder.Persist(e.StatsPath()); err != nil {
		return result, err
	}

	return result, nil
}

// Run executes the configured number of epochs and halts. There is no
// implicit resumption; any phase error aborts the whole run.
func (e *Engine) Run() error {
	for epoch := 1; epoch <= e.config.Epochs; epoch++ {
		if _, err := e.RunEpoch(epoch); err != nil {
			return fmt.Errorf("epoch %d failed: %v", epoch, err)
		}
	}
	return nil
}
