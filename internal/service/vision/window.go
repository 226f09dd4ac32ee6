package vision

import (
	"gocv.io/x/gocv"
)

// ReferenceWindow keeps the last N background frames in a ring and a running
// float32 sum of them, so both push and mean are independent of N.
type ReferenceWindow struct {
	frames []gocv.Mat
	start  int
	count  int
	sum    gocv.Mat
}

// NewReferenceWindow creates an empty window holding at most capacity frames.
func NewReferenceWindow(capacity int) *ReferenceWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &ReferenceWindow{
		frames: make([]gocv.Mat, capacity),
		sum:    gocv.NewMat(),
	}
}

func (w *ReferenceWindow) Len() int      { return w.count }
func (w *ReferenceWindow) Cap() int      { return len(w.frames) }
func (w *ReferenceWindow) Full() bool    { return w.count == len(w.frames) }
func (w *ReferenceWindow) IsEmpty() bool { return w.count == 0 }

// Fits reports whether gray has the size of the frames already held.
// Any frame fits an empty window.
func (w *ReferenceWindow) Fits(gray gocv.Mat) bool {
	if w.count == 0 || w.sum.Empty() {
		return true
	}
	return w.sum.Rows() == gray.Rows() && w.sum.Cols() == gray.Cols()
}

// Push stores a copy of gray, evicting the oldest frame once full.
// A frame of a different size than the current contents restarts the window.
func (w *ReferenceWindow) Push(gray gocv.Mat) {
	if !w.Fits(gray) {
		w.Clear()
	}

	sample := gocv.NewMat()
	defer sample.Close()
	gray.ConvertTo(&sample, gocv.MatTypeCV32F)

	if w.Full() {
		oldest := w.frames[w.start]
		evicted := gocv.NewMat()
		oldest.ConvertTo(&evicted, gocv.MatTypeCV32F)
		gocv.Subtract(w.sum, evicted, &w.sum)
		evicted.Close()
		oldest.Close()

		w.frames[w.start] = gray.Clone()
		w.start = (w.start + 1) % len(w.frames)
	} else {
		w.frames[(w.start+w.count)%len(w.frames)] = gray.Clone()
		w.count++
	}

	if w.sum.Empty() {
		sample.CopyTo(&w.sum)
		return
	}
	gocv.Add(w.sum, sample, &w.sum)
}

// Mean returns the pixel-wise mean of the window as an 8-bit image.
// The caller owns the returned Mat.
func (w *ReferenceWindow) Mean() gocv.Mat {
	mean := gocv.NewMat()
	if w.count == 0 {
		return mean
	}
	w.sum.ConvertToWithParams(&mean, gocv.MatTypeCV8U, float32(1.0/float64(w.count)), 0)
	return mean
}

// Clear drops every frame.
func (w *ReferenceWindow) Clear() {
	for i := 0; i < w.count; i++ {
		w.frames[(w.start+i)%len(w.frames)].Close()
	}
	for i := range w.frames {
		w.frames[i] = gocv.Mat{}
	}
	w.start = 0
	w.count = 0
	w.sum.Close()
	w.sum = gocv.NewMat()
}

// Close releases the native memory held by the window.
func (w *ReferenceWindow) Close() {
	w.Clear()
	w.sum.Close()
}
