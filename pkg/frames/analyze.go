// Package frames computes quality metrics over a directory of extracted
// video frames: brightness, contrast, sharpness and noise level, with
// per-frame values, summary statistics and enhancement recommendations.
package frames

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// DefaultSampleInterval analyzes every 30th frame.
const DefaultSampleInterval = 30

var frameExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true,
	".bmp": true, ".tiff": true, ".tif": true,
}

// MetricSummary aggregates one metric over the analyzed frames.
type MetricSummary struct {
	Mean           float64 `json:"mean"`
	Std            float64 `json:"std"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	Interpretation string  `json:"interpretation"`
}

// FrameAnalysis holds the metrics of a single sampled frame.
type FrameAnalysis struct {
	FrameIndex int     `json:"frame_index"`
	FrameFile  string  `json:"frame_file"`
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Sharpness  float64 `json:"sharpness"`
	NoiseLevel float64 `json:"noise_level"`
}

// FramesInfo describes the analyzed frame sequence.
type FramesInfo struct {
	FolderPath     string `json:"folder_path"`
	TotalFrames    int    `json:"total_frames"`
	AnalyzedFrames int    `json:"analyzed_frames"`
	SampleInterval int    `json:"sample_interval"`
	Resolution     string `json:"resolution"`
	FileFormat     string `json:"file_format"`
}

// QualityMetrics summarizes each metric across the sampled frames.
type QualityMetrics struct {
	Brightness MetricSummary `json:"brightness"`
	Contrast   MetricSummary `json:"contrast"`
	Sharpness  MetricSummary `json:"sharpness"`
	NoiseLevel MetricSummary `json:"noise_level"`
}

// Report is the full analysis result.
type Report struct {
	FramesInfo                 FramesInfo      `json:"frames_info"`
	QualityMetrics             QualityMetrics  `json:"quality_metrics"`
	FrameAnalyses              []FrameAnalysis `json:"frame_analyses"`
	EnhancementRecommendations []string        `json:"enhancement_recommendations"`
}

// grayImage is an 8-bit luma plane kept as float64 for the filter math.
type grayImage struct {
	w, h int
	pix  []float64
}

func (g *grayImage) at(x, y int) float64 {
	// Replicated border, matching the usual image-filter convention.
	if x < 0 {
		x = 0
	}
	if x >= g.w {
		x = g.w - 1
	}
	if y < 0 {
		y = 0
	}
	if y >= g.h {
		y = g.h - 1
	}
	return g.pix[y*g.w+x]
}

// Analyze walks the frames folder, samples every sampleInterval-th frame in
// filename order and computes the quality metrics. sampleInterval values
// below 1 fall back to DefaultSampleInterval.
func Analyze(folder string, sampleInterval int) (*Report, error) {
	if sampleInterval < 1 {
		sampleInterval = DefaultSampleInterval
	}

	files, err := listFrames(folder, frameExtensions)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no frame images in %s", folder)
	}

	first, err := loadGray(filepath.Join(folder, files[0]))
	if err != nil {
		return nil, fmt.Errorf("read first frame %s: %w", files[0], err)
	}

	var analyses []FrameAnalysis
	for i, name := range files {
		if i%sampleInterval != 0 {
			continue
		}
		gray := first
		if i != 0 {
			gray, err = loadGray(filepath.Join(folder, name))
			if err != nil {
				// Unreadable frames are skipped, like any other corrupt
				// sample in a long sequence.
				continue
			}
		}
		analyses = append(analyses, FrameAnalysis{
			FrameIndex: i,
			FrameFile:  name,
			Brightness: round2(mean(gray.pix)),
			Contrast:   round2(stddev(gray.pix)),
			Sharpness:  round2(laplacianVariance(gray)),
			NoiseLevel: round2(noiseLevel(gray)),
		})
	}
	if len(analyses) == 0 {
		return nil, fmt.Errorf("no readable frames in %s", folder)
	}

	brightness := summarize(analyses, func(a FrameAnalysis) float64 { return a.Brightness })
	contrast := summarize(analyses, func(a FrameAnalysis) float64 { return a.Contrast })
	sharpness := summarize(analyses, func(a FrameAnalysis) float64 { return a.Sharpness })
	noise := summarize(analyses, func(a FrameAnalysis) float64 { return a.NoiseLevel })

	brightness.Interpretation = interpretBrightness(brightness.Mean)
	contrast.Interpretation = interpretContrast(contrast.Mean)
	sharpness.Interpretation = interpretSharpness(sharpness.Mean)
	noise.Interpretation = interpretNoise(noise.Mean)

	return &Report{
		FramesInfo: FramesInfo{
			FolderPath:     folder,
			TotalFrames:    len(files),
			AnalyzedFrames: len(analyses),
			SampleInterval: sampleInterval,
			Resolution:     fmt.Sprintf("%dx%d", first.w, first.h),
			FileFormat:     strings.ToLower(filepath.Ext(files[0])),
		},
		QualityMetrics: QualityMetrics{
			Brightness: brightness,
			Contrast:   contrast,
			Sharpness:  sharpness,
			NoiseLevel: noise,
		},
		FrameAnalyses: analyses,
		EnhancementRecommendations: recommendations(
			brightness.Mean, contrast.Mean, sharpness.Mean, noise.Mean),
	}, nil
}

// CountFrames reports how many frame images a folder holds, broken down by
// extension. Only the common frame-dump formats are counted.
func CountFrames(folder string) (string, error) {
	extensions := map[string]bool{".jpg": true, ".jpeg": true, ".png": true}
	files, err := listFrames(folder, extensions)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "no image files found in " + folder, nil
	}

	byFormat := make(map[string]int)
	for _, name := range files {
		byFormat[strings.ToLower(filepath.Ext(name))]++
	}
	formats := make([]string, 0, len(byFormat))
	for ext := range byFormat {
		formats = append(formats, ext)
	}
	sort.Strings(formats)

	parts := make([]string, 0, len(formats))
	for _, ext := range formats {
		parts = append(parts, fmt.Sprintf("%s: %d", ext, byFormat[ext]))
	}
	return fmt.Sprintf("%d image files (%s)", len(files), strings.Join(parts, ", ")), nil
}

// listFrames returns the matching filenames of folder in ascending name
// order, the frame order of a sequential dump.
func listFrames(folder string, extensions map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("read frames folder: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if extensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func loadGray(path string) (*grayImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	g := &grayImage{
		w:   bounds.Dx(),
		h:   bounds.Dy(),
		pix: make([]float64, bounds.Dx()*bounds.Dy()),
	}
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, gr, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma on 8-bit channels.
			g.pix[i] = 0.299*float64(r>>8) + 0.587*float64(gr>>8) + 0.114*float64(b>>8)
			i++
		}
	}
	return g, nil
}

// laplacianVariance measures sharpness: variance of the 4-neighbour
// Laplacian response. Blurry frames have a flat response.
func laplacianVariance(g *grayImage) float64 {
	response := make([]float64, len(g.pix))
	i := 0
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			response[i] = g.at(x, y-1) + g.at(x-1, y) + g.at(x+1, y) + g.at(x, y+1) - 4*g.at(x, y)
			i++
		}
	}
	return variance(response)
}

// noiseLevel estimates noise as the standard deviation of the difference
// between the frame and a 5x5 median-filtered copy.
func noiseLevel(g *grayImage) float64 {
	diff := make([]float64, len(g.pix))
	window := make([]float64, 0, 25)
	i := 0
	for y := 0; y < g.h; y++ {
		for x := 0; x < g.w; x++ {
			window = window[:0]
			for dy := -2; dy <= 2; dy++ {
				for dx := -2; dx <= 2; dx++ {
					window = append(window, g.at(x+dx, y+dy))
				}
			}
			sort.Float64s(window)
			diff[i] = math.Abs(g.pix[i] - window[12])
			i++
		}
	}
	return stddev(diff)
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	return math.Sqrt(variance(values))
}

func summarize(analyses []FrameAnalysis, metric func(FrameAnalysis) float64) MetricSummary {
	values := make([]float64, len(analyses))
	for i, a := range analyses {
		values[i] = metric(a)
	}
	minV, maxV := values[0], values[0]
	for _, v := range values[1:] {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	return MetricSummary{
		Mean: round2(mean(values)),
		Std:  round2(stddev(values)),
		Min:  round2(minV),
		Max:  round2(maxV),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func interpretBrightness(v float64) string {
	switch {
	case v < 50:
		return "very dark"
	case v < 100:
		return "slightly dark"
	case v < 150:
		return "normal"
	case v < 200:
		return "slightly bright"
	default:
		return "too bright"
	}
}

func interpretContrast(v float64) string {
	switch {
	case v < 30:
		return "low contrast"
	case v < 50:
		return "moderate contrast"
	case v < 80:
		return "high contrast"
	default:
		return "excessive contrast"
	}
}

func interpretSharpness(v float64) string {
	switch {
	case v < 50:
		return "very blurry"
	case v < 100:
		return "blurry"
	case v < 200:
		return "average sharpness"
	case v < 500:
		return "sharp"
	default:
		return "very sharp"
	}
}

func interpretNoise(v float64) string {
	switch {
	case v < 5:
		return "very low noise"
	case v < 10:
		return "low noise"
	case v < 20:
		return "moderate noise"
	case v < 30:
		return "high noise"
	default:
		return "very high noise"
	}
}

func recommendations(brightness, contrast, sharpness, noise float64) []string {
	var recs []string

	switch {
	case brightness < 50:
		recs = append(recs, "frames are dark overall; apply brightness enhancement (gamma correction, histogram equalization)")
	case brightness > 200:
		recs = append(recs, "frames are too bright overall; lower the brightness")
	case brightness <= 150:
		recs = append(recs, "brightness is normal; no major adjustment needed")
	}

	switch {
	case contrast < 30:
		recs = append(recs, "contrast is low; apply contrast stretching or CLAHE")
	case contrast > 80:
		recs = append(recs, "contrast is very high; detail may be lost")
	default:
		recs = append(recs, "contrast is adequate")
	}

	switch {
	case sharpness < 100:
		recs = append(recs, "sharpness is low; apply super-resolution or sharpening")
	case sharpness < 200:
		recs = append(recs, "sharpness is average; light sharpening may help")
	default:
		recs = append(recs, "sharpness is good")
	}

	if noise > 10 {
		recs = append(recs, "noise level is high; apply denoising (median filter, non-local means)")
	} else {
		recs = append(recs, "noise level is normal")
	}

	return recs
}
