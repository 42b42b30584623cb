package postprocess

import (
	"gonum.org/v1/gonum/stat"

	"cellseg/pkg/raster"
)

// scoreInstances assigns every instance a confidence value derived from the
// intensity statistics of its pixels: the mean foreground intensity, damped
// by its coefficient of variation so noisy, uneven cells score lower. The
// value is constant across the instance and zero on background.
func scoreInstances(labels *raster.Raster[uint32], raw *raster.Raster[uint8]) *raster.Raster[uint8] {
	samples := make(map[uint32][]float64)
	for i, id := range labels.Pix {
		if id == 0 {
			continue
		}
		samples[id] = append(samples[id], float64(raw.Pix[i]))
	}

	scores := make(map[uint32]uint8, len(samples))
	for id, vals := range samples {
		scores[id] = instanceScore(vals)
	}

	out := raster.New[uint8](labels.Width, labels.Height)
	for i, id := range labels.Pix {
		if id != 0 {
			out.Pix[i] = scores[id]
		}
	}
	return out
}

// instanceScore maps one instance's intensity samples to 0..255.
func instanceScore(vals []float64) uint8 {
	mean, std := stat.MeanStdDev(vals, nil)
	if len(vals) == 1 {
		std = 0
	}
	score := mean
	if mean > 0 {
		cv := std / mean
		if cv > 1 {
			cv = 1
		}
		score = mean * (1 - cv/2)
	}
	if score < 0 {
		score = 0
	}
	if score > 255 {
		score = 255
	}
	return uint8(score + 0.5)
}
