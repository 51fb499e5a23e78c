package media

import (
	"math"
)

const (
	// Threshold separates a speaking participant from a silent one.
	Threshold      = 0.1
	AmplitudeScale = 1.5
)

// Amplitude maps a byte frequency spectrum to [0, 1] using its RMS.
func Amplitude(spectrum []byte, scale float64) float64 {
	if len(spectrum) == 0 {
		return 0
	}
	var sum float64
	for _, v := range spectrum {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(spectrum)))
	return math.Min(1, rms/255*scale)
}

// Crossed reports whether going from prev to next passes threshold in either
// direction.
func Crossed(prev, next, threshold float64) bool {
	return (next > threshold && prev <= threshold) || (next <= threshold && prev > threshold)
}

// Analyser yields the current amplitude of one audio source.
type Analyser interface {
	Amplitude() float64
}

// AnalyserFunc adapts a function to Analyser.
type AnalyserFunc func() float64

func (f AnalyserFunc) Amplitude() float64 {
	return f()
}

// SpectrumAnalyser turns spectrum snapshots into amplitudes.
type SpectrumAnalyser struct {
	Spectrum func() []byte
	Scale    float64
}

func (a SpectrumAnalyser) Amplitude() float64 {
	scale := a.Scale
	if scale == 0 {
		scale = AmplitudeScale
	}
	return Amplitude(a.Spectrum(), scale)
}
