package imagefile

import (
	"fmt"
	"image"
	"image/color"

	"ijscript/ndarray"

	"github.com/disintegration/imaging"
)

// FromImage converts a decoded image. Gray images become (Y, X) arrays of the
// matching width; anything else becomes an 8-bit (3, Y, X) RGB array.
func FromImage(img image.Image) (*ndarray.Array, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupported)
	}
	switch m := img.(type) {
	case *image.Gray:
		a, err := ndarray.New(ndarray.Uint8, h, w)
		if err != nil {
			return nil, err
		}
		v := a.Values()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v[y*w+x] = float64(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return a, nil
	case *image.Gray16:
		a, err := ndarray.New(ndarray.Uint16, h, w)
		if err != nil {
			return nil, err
		}
		v := a.Values()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v[y*w+x] = float64(m.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return a, nil
	}

	a, err := ndarray.New(ndarray.Uint8, 3, h, w)
	if err != nil {
		return nil, err
	}
	v := a.Values()
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := y*w + x
			v[i] = float64(c.R)
			v[plane+i] = float64(c.G)
			v[2*plane+i] = float64(c.B)
		}
	}
	return a, nil
}

// ToImage is the inverse of FromImage for (Y, X) gray arrays and (C, Y, X)
// uint8 arrays with one, three or four channels.
func ToImage(a *ndarray.Array) (image.Image, error) {
	shape := a.Shape()
	v := a.Values()
	switch {
	case len(shape) == 2 && a.DType() == ndarray.Uint8:
		h, w := shape[0], shape[1]
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i, x := range v {
			img.Pix[i] = uint8(x)
		}
		return img, nil
	case len(shape) == 2 && a.DType() == ndarray.Uint16:
		h, w := shape[0], shape[1]
		img := image.NewGray16(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(v[y*w+x])})
			}
		}
		return img, nil
	case len(shape) == 3 && shape[0] == 1:
		flat, err := a.Reshape(shape[1], shape[2])
		if err != nil {
			return nil, err
		}
		return ToImage(flat)
	case len(shape) == 3 && a.DType() == ndarray.Uint8 && (shape[0] == 3 || shape[0] == 4):
		c, h, w := shape[0], shape[1], shape[2]
		plane := w * h
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < plane; i++ {
			img.Pix[4*i] = uint8(v[i])
			img.Pix[4*i+1] = uint8(v[plane+i])
			img.Pix[4*i+2] = uint8(v[2*plane+i])
			img.Pix[4*i+3] = 0xff
			if c == 4 {
				img.Pix[4*i+3] = uint8(v[3*plane+i])
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: cannot render %s as an image", ErrUnsupported, a)
}

// LoadImage reads any format imaging can open (PNG, JPEG, GIF, BMP, TIFF),
// applying EXIF orientation.
func LoadImage(path string) (*ndarray.Array, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return FromImage(img)
}

// SaveImage writes a in the format implied by the path extension.
func SaveImage(path string, a *ndarray.Array) error {
	img, err := ToImage(a)
	if err != nil {
		return err
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
