package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

const (
	// BlurKernel is the Gaussian kernel used to suppress sensor noise before diffing.
	BlurKernel = 21
	// DiffThreshold is the per-pixel intensity change that counts as different.
	DiffThreshold = 25
	// DilateIterations merges neighbouring changed pixels into regions.
	DilateIterations = 2
)

// Comparison is the outcome of diffing two grayscale frames.
type Comparison struct {
	Changed     bool
	Regions     []image.Rectangle
	LargestArea float64
	MinArea     float64
}

// Gray converts a BGR frame to the blurred grayscale form used for comparisons.
// The caller owns the returned Mat.
func Gray(frame gocv.Mat) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("frame is empty")
	}

	gray := gocv.NewMat()
	if err := gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray); err != nil {
		gray.Close()
		return gocv.NewMat(), fmt.Errorf("failed to convert frame to grayscale: %w", err)
	}
	gocv.GaussianBlur(gray, &gray, image.Pt(BlurKernel, BlurKernel), 0, 0, gocv.BorderDefault)
	return gray, nil
}

// Compare reports the changed regions between two blurred grayscale frames whose
// area is larger than ratio of the frame area.
func Compare(reference, current gocv.Mat, ratio float64) (Comparison, error) {
	if reference.Rows() != current.Rows() || reference.Cols() != current.Cols() {
		return Comparison{}, fmt.Errorf("frame size mismatch: %dx%d vs %dx%d",
			reference.Cols(), reference.Rows(), current.Cols(), current.Rows())
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(reference, current, &diff); err != nil {
		return Comparison{}, fmt.Errorf("failed to compute absolute difference: %w", err)
	}

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	for i := 0; i < DilateIterations; i++ {
		gocv.Dilate(thresh, &thresh, kernel)
	}

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	result := Comparison{
		MinArea: ratio * float64(current.Rows()*current.Cols()),
	}
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area > result.LargestArea {
			result.LargestArea = area
		}
		if area <= result.MinArea {
			continue
		}
		result.Changed = true
		result.Regions = append(result.Regions, gocv.BoundingRect(contour))
	}

	return result, nil
}

// DrawRegions outlines regions on the colour frame so recordings show what triggered.
func DrawRegions(frame *gocv.Mat, regions []image.Rectangle) error {
	green := color.RGBA{R: 0, G: 255, B: 0, A: 0}
	for _, rect := range regions {
		if err := gocv.Rectangle(frame, rect, green, 2); err != nil {
			return fmt.Errorf("failed to draw rectangle: %w", err)
		}
	}
	return nil
}

// Brightness is the mean of the HSV value channel, 0-255.
func Brightness(frame gocv.Mat) (float64, error) {
	hsv := gocv.NewMat()
	defer hsv.Close()
	if err := gocv.CvtColor(frame, &hsv, gocv.ColorBGRToHSV); err != nil {
		return 0, fmt.Errorf("failed to convert frame to hsv: %w", err)
	}

	channels := gocv.Split(hsv)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()
	if len(channels) < 3 {
		return 0, fmt.Errorf("expected 3 hsv channels, got %d", len(channels))
	}
	return channels[2].Mean().Val1, nil
}
