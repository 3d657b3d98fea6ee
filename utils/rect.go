package utils

import "math"

// Rect is an axis-aligned box in image pixels. Right and Bottom are inclusive.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

func (r Rect) Right() float64 {
	return r.Left + r.Width - 1
}

func (r Rect) Bottom() float64 {
	return r.Top + r.Height - 1
}

func (r Rect) CenterX() float64 {
	return r.Left + r.Width/2
}

func (r Rect) CenterY() float64 {
	return r.Top + r.Height/2
}

func (r Rect) AspectRatio() float64 {
	return r.Width / r.Height
}

func (r Rect) Area() float64 {
	return r.Width * r.Height
}

// Valid reports whether the box has finite coordinates and a positive size.
func (r Rect) Valid() bool {
	for _, v := range [4]float64{r.Left, r.Top, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.Width > 0 && r.Height > 0
}

// XYAH returns the box as (center x, center y, aspect ratio, height).
func (r Rect) XYAH() [4]float64 {
	return [4]float64{r.CenterX(), r.CenterY(), r.AspectRatio(), r.Height}
}

// XYXY returns the exclusive corner form (left, top, left+width, top+height).
func (r Rect) XYXY() [4]float64 {
	return [4]float64{r.Left, r.Top, r.Left + r.Width, r.Top + r.Height}
}

func RectFromXYAH(xyah [4]float64) Rect {
	w := xyah[2] * xyah[3]
	h := xyah[3]
	return Rect{
		Left:   xyah[0] - w/2,
		Top:    xyah[1] - h/2,
		Width:  w,
		Height: h,
	}
}

// Clip returns the part of r that lies inside bounds.
func (r Rect) Clip(bounds Rect) Rect {
	left := max(bounds.Left, r.Left)
	top := max(bounds.Top, r.Top)
	right := min(bounds.Right(), r.Right())
	bottom := min(bounds.Bottom(), r.Bottom())

	return Rect{
		Left:   left,
		Top:    top,
		Width:  right - left + 1,
		Height: bottom - top + 1,
	}
}
