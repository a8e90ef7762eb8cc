package imaging

import (
	"image"
	"image/color"
	"math/rand"
)

const (
	// MinCropSize is the minimum width/height of an augmented sub-crop.
	// Smaller samples carry too little structure to embed.
	MinCropSize = 64

	// cropMarginFraction keeps random crops away from the image edges.
	cropMarginFraction = 0.1
)

// Sampler draws randomized sub-crops of an image for multi-sample
// embedding. Randomness is injected so tests can fix the sequence.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler creates a sampler using the given random source.
func NewSampler(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

// RandomCrop draws one augmented sub-crop: sized 70-90% of the shorter
// side, positioned away from the edges, with a 50% horizontal flip and
// a small brightness perturbation. Returns ok=false when the image is
// too small to produce a valid sample; the caller simply gets fewer
// samples, never an error.
func (s *Sampler) RandomCrop(img image.Image) (image.Image, bool) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	shorter := min(w, h)
	cropSize := int(float64(shorter) * (0.7 + 0.2*s.rng.Float64()))
	if cropSize < MinCropSize {
		return nil, false
	}

	marginX := int(float64(w) * cropMarginFraction)
	marginY := int(float64(h) * cropMarginFraction)
	maxX := w - cropSize - marginX
	maxY := h - cropSize - marginY
	if maxX <= marginX || maxY <= marginY {
		return nil, false
	}

	startX := marginX + s.rng.Intn(maxX-marginX)
	startY := marginY + s.rng.Intn(maxY-marginY)

	crop := Crop(img, image.Rect(
		bounds.Min.X+startX,
		bounds.Min.Y+startY,
		bounds.Min.X+startX+cropSize,
		bounds.Min.Y+startY+cropSize,
	))
	if crop.Bounds().Dx() < MinCropSize || crop.Bounds().Dy() < MinCropSize {
		return nil, false
	}

	if s.rng.Float64() < 0.5 {
		crop = flipHorizontal(crop)
	}

	// Brightness perturbation in [0.9, 1.1].
	factor := 0.9 + 0.2*s.rng.Float64()
	return adjustBrightness(crop, factor), true
}

// flipHorizontal mirrors an image along its vertical axis.
func flipHorizontal(img *image.RGBA) *image.RGBA {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			dst.Set(w-1-x, y, img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return dst
}

// adjustBrightness scales every channel by factor, clamping to 255.
func adjustBrightness(img *image.RGBA, factor float64) *image.RGBA {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			r, g, b, a := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			dst.Set(x, y, color.RGBA{
				R: clampChannel(float64(r>>8) * factor),
				G: clampChannel(float64(g>>8) * factor),
				B: clampChannel(float64(b>>8) * factor),
				A: uint8(a >> 8),
			})
		}
	}
	return dst
}

func clampChannel(v float64) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}
