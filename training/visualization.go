package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// MetricObserver receives per-epoch metrics from the engine. Observers
// are purely observational and feed nothing back into control flow; the
// engine invokes them sequentially in registration order.
type MetricObserver interface {
	// LogScalar records a scalar for the named series, e.g. ("loss", "train").
	LogScalar(epoch int, value float64, plot, series string)

	// LogMatrix records a matrix for the named series, e.g. a confusion
	// matrix heatmap for the "val" split.
	LogMatrix(epoch int, matrix [][]float64, plot, series string)
}

// ScalarPoint is one recorded (epoch, value) observation.
type ScalarPoint struct {
	Epoch int     `json:"epoch"`
	Value float64 `json:"value"`
}

// VisualizationCollector accumulates metric series for later plotting.
// It implements MetricObserver.
type VisualizationCollector struct {
	modelName string
	scalars   map[string][]ScalarPoint // keyed by "plot/series"
	matrices  map[string][][]float64   // latest matrix per "plot/series"
}

// NewVisualizationCollector creates a collector for the named model.
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{
		modelName: modelName,
		scalars:   make(map[string][]ScalarPoint),
		matrices:  make(map[string][][]float64),
	}
}

// LogScalar records a scalar observation.
func (vc *VisualizationCollector) LogScalar(epoch int, value float64, plot, series string) {
	key := plot + "/" + series
	vc.scalars[key] = append(vc.scalars[key], ScalarPoint{Epoch: epoch, Value: value})
}

// LogMatrix records a matrix observation, keeping only the most recent
// matrix per series.
func (vc *VisualizationCollector) LogMatrix(epoch int, matrix [][]float64, plot, series string) {
	vc.matrices[plot+"/"+series] = matrix
}

// Scalars returns the recorded points for a plot/series pair.
func (vc *VisualizationCollector) Scalars(plot, series string) []ScalarPoint {
	return vc.scalars[plot+"/"+series]
}

// Matrix returns the most recent matrix for a plot/series pair.
func (vc *VisualizationCollector) Matrix(plot, series string) [][]float64 {
	return vc.matrices[plot+"/"+series]
}

// PlotData is the universal JSON payload for the sidecar plotting service.
type PlotData struct {
	PlotType  string       `json:"plot_type"` // "line" or "heatmap"
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
}

// SeriesData represents a single data series in a plot.
type SeriesData struct {
	Name string      `json:"name"`
	Data []DataPoint `json:"data"`
}

// DataPoint represents a single data point.
type DataPoint struct {
	X interface{} `json:"x"`
	Y interface{} `json:"y"`
	Z interface{} `json:"z,omitempty"` // For heatmaps
}

// BuildPlots converts everything the collector has seen into plot
// payloads: one line plot per scalar plot name (all series together) and
// one heatmap per matrix series.
func (vc *VisualizationCollector) BuildPlots() []PlotData {
	var plots []PlotData

	byPlot := make(map[string][]string) // plot name -> series keys
	for key := range vc.scalars {
		plot, series := splitKey(key)
		byPlot[plot] = append(byPlot[plot], series)
	}

	plotNames := make([]string, 0, len(byPlot))
	for plot := range byPlot {
		plotNames = append(plotNames, plot)
	}
	sort.Strings(plotNames)

	for _, plot := range plotNames {
		seriesNames := byPlot[plot]
		sort.Strings(seriesNames)

		pd := PlotData{
			PlotType:  "line",
			Title:     plot,
			Timestamp: time.Now(),
			ModelName: vc.modelName,
		}
		for _, series := range seriesNames {
			sd := SeriesData{Name: series}
			for _, pt := range vc.scalars[plot+"/"+series] {
				sd.Data = append(sd.Data, DataPoint{X: pt.Epoch, Y: pt.Value})
			}
			pd.Series = append(pd.Series, sd)
		}
		plots = append(plots, pd)
	}

	matrixKeys := make([]string, 0, len(vc.matrices))
	for key := range vc.matrices {
		matrixKeys = append(matrixKeys, key)
	}
	sort.Strings(matrixKeys)

	for _, key := range matrixKeys {
		plot, series := splitKey(key)
		pd := PlotData{
			PlotType:  "heatmap",
			Title:     fmt.Sprintf("%s (%s)", plot, series),
			Timestamp: time.Now(),
			ModelName: vc.modelName,
		}
		sd := SeriesData{Name: series}
		for i, row := range vc.matrices[key] {
			for j, v := range row {
				sd.Data = append(sd.Data, DataPoint{X: j, Y: i, Z: v})
			}
		}
		pd.Series = append(pd.Series, sd)
		plots = append(plots, pd)
	}

	return plots
}

func splitKey(key string) (plot, series string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// PlottingService posts plot payloads to the sidecar plotting
// application. Failures are reported but never abort a run.
type PlottingService struct {
	baseURL    string
	httpClient *http.Client
	enabled    bool
}

// NewPlottingService creates a plotting service client for the given
// base URL, e.g. "http://localhost:8080".
func NewPlottingService(baseURL string, timeout time.Duration) *PlottingService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PlottingService{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		enabled:    true,
	}
}

// Enable turns plot publishing on.
func (ps *PlottingService) Enable() { ps.enabled = true }

// Disable turns plot publishing off; SendPlot becomes a no-op.
func (ps *PlottingService) Disable() { ps.enabled = false }

// IsEnabled reports whether plots are being published.
func (ps *PlottingService) IsEnabled() bool { return ps.enabled }

// SendPlot posts a single plot payload to the service.
func (ps *PlottingService) SendPlot(data PlotData) error {
	if !ps.enabled {
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal plot data: %v", err)
	}

	resp, err := ps.httpClient.Post(ps.baseURL+"/plot", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to send plot: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plotting service returned status %d", resp.StatusCode)
	}

	return nil
}

// Publish sends every plot the collector has accumulated. The first
// error is returned after attempting all plots.
func (ps *PlottingService) Publish(vc *VisualizationCollector) error {
	var firstErr error
	for _, plot := range vc.BuildPlots() {
		if err := ps.SendPlot(plot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
