// Command train runs the activity-recognition training loop: for each
// epoch it trains, validates, checkpoints on improved validation
// accuracy, steps the learning rate schedule, tests and appends a row to
// the results table.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/tsawler/go-activity/models"
	"github.com/tsawler/go-activity/training"
	"github.com/tsawler/go-activity/vision/clips"
)

func main() {
	dataType := flag.String("data_type", "ucf101", "dataset to train on: ucf101 or hmdb51")
	modelType := flag.String("model_type", "stts-a", "model variant: c3d, r2plus1d, stts or stts-a")
	devices := flag.String("devices", "0", "comma-separated worker ids, e.g. 0,1,2,3")
	batchSize := flag.Int("batch_size", 8, "samples per batch")
	numEpochs := flag.Int("num_epochs", 100, "number of epochs to train")
	lr := flag.Float64("lr", 1e-4, "initial learning rate")
	weightDecay := flag.Float64("weight_decay", 5e-4, "L2 weight decay")
	dataDir := flag.String("data_dir", "data", "root directory holding <data_type>/{train,val,test} clip folders")
	outputDir := flag.String("output_dir", ".", "directory for checkpoint and results files")
	channels := flag.Int("channels", 3, "clip channels")
	frames := flag.Int("frames", 16, "clip frames")
	height := flag.Int("height", 112, "clip height")
	width := flag.Int("width", 112, "clip width")
	hidden := flag.Int("hidden", 256, "hidden layer width")
	plotURL := flag.String("plot_url", "", "metrics plotting endpoint, empty disables plotting")
	flag.Parse()

	if *dataType != "ucf101" && *dataType != "hmdb51" {
		log.Fatalf("unknown data type %q: want ucf101 or hmdb51", *dataType)
	}

	variant, err := models.ParseVariant(*modelType)
	if err != nil {
		log.Fatalf("%v", err)
	}

	shards := countDevices(*devices)
	if shards > runtime.NumCPU() {
		log.Fatalf("requested %d devices but only %d are available", shards, runtime.NumCPU())
	}

	geometry := clips.Geometry{
		Channels: *channels,
		Frames:   *frames,
		Height:   *height,
		Width:    *width,
	}

	trainLoader, numClasses, err := buildLoader(*dataDir, *dataType, "train", geometry, *batchSize, true)
	if err != nil {
		log.Fatalf("failed to build train loader: %v", err)
	}
	valLoader, _, err := buildLoader(*dataDir, *dataType, "val", geometry, *batchSize, false)
	if err != nil {
		log.Fatalf("failed to build val loader: %v", err)
	}
	testLoader, _, err := buildLoader(*dataDir, *dataType, "test", geometry, *batchSize, false)
	if err != nil {
		log.Fatalf("failed to build test loader: %v", err)
	}

	cfg := models.Config{
		NumClasses: numClasses,
		Channels:   *channels,
		Frames:     *frames,
		Hidden:     *hidden,
	}

	base, err := models.New(variant, cfg)
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}

	var model models.Model = base
	if shards > 1 {
		model, err = models.NewDataParallel(base, shards)
		if err != nil {
			log.Fatalf("failed to parallelize model: %v", err)
		}
	}

	fmt.Printf("Training %s on %s with %d classes\n", variant, *dataType, numClasses)
	fmt.Printf("The model has %d trainable parameters\n", models.CountParameters(model))

	optimizer := training.NewAdam(model.Parameters(), *lr, 0.9, 0.999, 1e-8, *weightDecay)

	engine, err := training.NewEngine(model, optimizer, numClasses, trainLoader, valLoader, testLoader, training.EngineConfig{
		DataType:  *dataType,
		ModelType: variant.String(),
		Epochs:    *numEpochs,
		OutputDir: *outputDir,
	})
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	collector := training.NewVisualizationCollector(variant.String())
	engine.AddObserver(collector)

	if err := engine.Run(); err != nil {
		log.Fatalf("training failed: %v", err)
	}

	fmt.Printf("Done. Best validation accuracy: %.2f%%\n", engine.Best().Best())
	fmt.Printf("Checkpoint: %s\n", engine.CheckpointPath())
	fmt.Printf("Results:    %s\n", engine.StatsPath())

	if *plotURL != "" {
		service := training.NewPlottingService(*plotURL, 10*time.Second)
		service.Enable()
		if err := service.Publish(collector); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to publish plots: %v\n", err)
		}
	}
}

// countDevices counts entries in a comma-separated device list.
func countDevices(devices string) int {
	count := 1
	for _, ch := range devices {
		if ch == ',' {
			count++
		}
	}
	return count
}

// buildLoader creates a data loader over one split of a clip dataset and
// reports the number of classes the split carries.
func buildLoader(dataDir, dataType, split string, geometry clips.Geometry, batchSize int, shuffle bool) (*training.DataLoader, int, error) {
	root := filepath.Join(dataDir, dataType, split)

	dataset, err := clips.NewClipFolderDataset(root, geometry)
	if err != nil {
		return nil, 0, err
	}

	loader, err := training.NewDataLoader(dataset, batchSize, shuffle)
	if err != nil {
		return nil, 0, err
	}
	return loader, dataset.NumClasses(), nil
}
