// Package clips loads video clip datasets from a directory structure
// where each subdirectory names an activity class. Clips are stored as
// raw little-endian float32 files laid out [channels, frames, height,
// width], pre-extracted from the source videos.
package clips

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/tsawler/go-activity/tensor"
)

// ClipExtension is the file extension of pre-extracted clip files.
const ClipExtension = ".clip"

// Geometry describes the fixed shape every clip in a dataset must have.
type Geometry struct {
	Channels int
	Frames   int
	Height   int
	Width    int
}

func (g Geometry) numElems() int {
	return g.Channels * g.Frames * g.Height * g.Width
}

func (g Geometry) validate() error {
	if g.Channels <= 0 || g.Frames <= 0 || g.Height <= 0 || g.Width <= 0 {
		return fmt.Errorf("clip geometry must be positive, got %+v", g)
	}
	return nil
}

// ClipFolderDataset represents a clip dataset loaded from a directory
// structure where each subdirectory represents a class. Class indices
// are assigned in sorted directory order so they are stable across runs.
type ClipFolderDataset struct {
	geometry   Geometry
	clipPaths  []string
	labels     []int
	classNames []string
	classToIdx map[string]int
}

// NewClipFolderDataset creates a dataset from a directory structure.
func NewClipFolderDataset(root string, geometry Geometry) (*ClipFolderDataset, error) {
	if err := geometry.validate(); err != nil {
		return nil, err
	}

	dataset := &ClipFolderDataset{
		geometry:   geometry,
		classToIdx: make(map[string]int),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %v", err)
	}

	var classDirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			classDirs = append(classDirs, entry.Name())
		}
	}
	sort.Strings(classDirs)

	for classIdx, className := range classDirs {
		dataset.classNames = append(dataset.classNames, className)
		dataset.classToIdx[className] = classIdx

		pattern := filepath.Join(root, className, "*"+ClipExtension)
		files, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		sort.Strings(files)

		for _, file := range files {
			dataset.clipPaths = append(dataset.clipPaths, file)
			dataset.labels = append(dataset.labels, classIdx)
		}
	}

	if len(dataset.clipPaths) == 0 {
		return nil, fmt.Errorf("no clips found in %s", root)
	}

	return dataset, nil
}

// Len returns the number of clips in the dataset.
func (d *ClipFolderDataset) Len() int {
	return len(d.clipPaths)
}

// Get loads the clip at the given index into a [C, T, H, W] tensor and
// returns it with its class label.
func (d *ClipFolderDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	if idx < 0 || idx >= len(d.clipPaths) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.clipPaths))
	}

	clipData, err := readClipFile(d.clipPaths[idx], d.geometry)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load clip %s: %v", d.clipPaths[idx], err)
	}

	g := d.geometry
	data, err := tensor.NewTensor([]int{g.Channels, g.Frames, g.Height, g.Width}, tensor.Float32, clipData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create clip tensor: %v", err)
	}

	label, err := tensor.NewTensor([]int{1}, tensor.Int32, []int32{int32(d.labels[idx])})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create label tensor: %v", err)
	}

	return data, label, nil
}

// NumClasses returns the number of classes.
func (d *ClipFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names in index order.
func (d *ClipFolderDataset) ClassNames() []string {
	return d.classNames
}

// ClassToIndex returns the class-name-to-index mapping.
func (d *ClipFolderDataset) ClassToIndex() map[string]int {
	return d.classToIdx
}

// ClassDistribution returns the distribution of clips per class.
func (d *ClipFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}

// readClipFile reads a raw float32 clip file and validates its size
// against the expected geometry.
func readClipFile(path string, g Geometry) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	want := g.numElems()
	if len(raw) != want*4 {
		return nil, fmt.Errorf("clip size mismatch: %d bytes, expected %d for geometry %+v", len(raw), want*4, g)
	}

	data := make([]float32, want)
	for i := range data {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		data[i] = math.Float32frombits(bits)
	}
	return data, nil
}

// WriteClipFile writes a clip as raw little-endian float32, the format
// Get expects. Used by extraction tooling and tests.
func WriteClipFile(path string, data []float32) error {
	raw := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return os.WriteFile(path, raw, 0644)
}
