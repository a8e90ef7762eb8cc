package imaging

import (
	"image"
)

const (
	// MinRegionSize is the minimum width/height of a detected region.
	// Smaller detections are treated as "no region found".
	MinRegionSize = 50

	// analysisSize is the longer-side size of the downscaled image the
	// detector runs on. Detection needs structure, not resolution.
	analysisSize = 256

	// regionExpandFactor grows the detected box on each side so the crop
	// keeps the area around the subject (ears, collar, chin).
	regionExpandFactor = 0.2
)

// Region is the result of subject detection in a photo.
type Region struct {
	Bounds image.Rectangle // crop bounds in original image coordinates
	Found  bool            // false means the caller should use the full image
}

// DetectRegion locates the dominant high-detail region of an image,
// which for pet photos is almost always the animal itself. It computes
// a gradient-energy map on a grayscale downscale and takes the bounding
// box of above-average energy, expanded by a fixed margin.
//
// Detection failure is not an error: when no sufficiently large region
// is found the original image is returned unchanged with Found=false.
func DetectRegion(img image.Image) (image.Image, Region) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w < MinRegionSize || h < MinRegionSize {
		return img, Region{}
	}

	// Downscale for analysis, keeping aspect ratio.
	aw, ah := w, h
	if w >= h && w > analysisSize {
		aw = analysisSize
		ah = h * analysisSize / w
	} else if h > w && h > analysisSize {
		ah = analysisSize
		aw = w * analysisSize / h
	}
	if aw < 2 || ah < 2 {
		return img, Region{}
	}

	gray := toGrayscale(Resize(img, aw, ah))
	energy := gradientEnergy(gray, aw, ah)

	box, ok := energyBoundingBox(energy, aw, ah)
	if !ok {
		return img, Region{}
	}

	// Expand the box and map it back to original coordinates.
	box = expandBox(box, regionExpandFactor, aw, ah)
	scaled := image.Rect(
		box.Min.X*w/aw,
		box.Min.Y*h/ah,
		box.Max.X*w/aw,
		box.Max.Y*h/ah,
	).Intersect(bounds)

	if scaled.Dx() < MinRegionSize || scaled.Dy() < MinRegionSize {
		return img, Region{}
	}

	return Crop(img, scaled), Region{Bounds: scaled, Found: true}
}

// gradientEnergy computes per-pixel |dx|+|dy| of the grayscale image.
func gradientEnergy(gray [][]float64, w, h int) [][]float64 {
	energy := make([][]float64, w)
	for x := range w {
		energy[x] = make([]float64, h)
	}
	for x := 1; x < w-1; x++ {
		for y := 1; y < h-1; y++ {
			dx := gray[x+1][y] - gray[x-1][y]
			dy := gray[x][y+1] - gray[x][y-1]
			if dx < 0 {
				dx = -dx
			}
			if dy < 0 {
				dy = -dy
			}
			energy[x][y] = dx + dy
		}
	}
	return energy
}

// energyBoundingBox returns the bounding box of pixels whose energy
// exceeds 1.2x the mean. A flat image (uniform color) has no such
// pixels and yields ok=false.
func energyBoundingBox(energy [][]float64, w, h int) (image.Rectangle, bool) {
	var sum float64
	for x := range w {
		for y := range h {
			sum += energy[x][y]
		}
	}
	mean := sum / float64(w*h)
	if mean == 0 {
		return image.Rectangle{}, false
	}
	threshold := mean * 1.2

	minX, minY := w, h
	maxX, maxY := -1, -1
	for x := range w {
		for y := range h {
			if energy[x][y] > threshold {
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	if maxX < 0 || maxX <= minX || maxY <= minY {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// expandBox grows a box by factor on each side, clamped to the image.
func expandBox(box image.Rectangle, factor float64, w, h int) image.Rectangle {
	dx := int(float64(box.Dx()) * factor)
	dy := int(float64(box.Dy()) * factor)
	return image.Rect(
		max(0, box.Min.X-dx),
		max(0, box.Min.Y-dy),
		min(w, box.Max.X+dx),
		min(h, box.Max.Y+dy),
	)
}
