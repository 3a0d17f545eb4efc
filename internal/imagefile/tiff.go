// Package imagefile moves arrays between the client and the remote host
// through temporary ImageJ TIFF files.
//
// Arrays are written as uncompressed multi-page ImageJ hyperstacks. The
// axes string names the array dimensions from fastest to slowest varying,
// so "XYC" describes an array of shape (C, Y, X). The first two axes are
// always X and Y and make up each page.
//
// ImageJ reads hyperstack pages with C varying fastest, then Z, then T, and
// does not consult the axes key. Encode therefore stores planes in that
// order whatever axes the array is given in, and Decode returns arrays in
// the same canonical order.
package imagefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"ijscript/ndarray"

	xtiff "golang.org/x/image/tiff"
)

const DefaultAxes = "XYC"

var (
	ErrFormat      = errors.New("imagefile: malformed tiff")
	ErrUnsupported = errors.New("imagefile: unsupported image")
)

// Metadata travels with the pixels in the ImageJ description.
type Metadata struct {
	Axes string
}

const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagSampleFormat     = 339

	typeByte  = 1
	typeASCII = 2
	typeShort = 3
	typeLong  = 4

	sampleUint   = 1
	sampleSigned = 2
	sampleFloat  = 3

	imageJVersion = "1.11a"
	maxPages      = 1 << 20
)

// ResolveAxes fits axes to an array of ndim dimensions. Extra trailing axes
// are dropped, so the default "XYC" also describes plain 2-D images.
func ResolveAxes(axes string, ndim int) (string, error) {
	if axes == "" {
		axes = DefaultAxes
	}
	axes = strings.ToUpper(axes)
	if ndim < 2 {
		return "", fmt.Errorf("%w: need at least 2 dimensions, got %d", ErrUnsupported, ndim)
	}
	if len(axes) < ndim {
		return "", fmt.Errorf("%w: axes %q too short for %d dimensions", ErrUnsupported, axes, ndim)
	}
	axes = axes[:ndim]
	if !strings.HasPrefix(axes, "XY") {
		return "", fmt.Errorf("%w: axes %q must start with XY", ErrUnsupported, axes)
	}
	for i, r := range axes {
		if !strings.ContainsRune("XYCZT", r) || strings.IndexRune(axes, r) != i {
			return "", fmt.Errorf("%w: bad axes %q", ErrUnsupported, axes)
		}
	}
	return axes, nil
}

// WriteFile encodes a into path, replacing any existing content.
func WriteFile(path string, a *ndarray.Array, md Metadata) error {
	b, err := Encode(a, md)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// ReadFile decodes the TIFF at path.
func ReadFile(path string) (*ndarray.Array, Metadata, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, Metadata{}, err
	}
	a, md, err := Decode(b)
	if err != nil {
		return nil, md, fmt.Errorf("%s: %w", path, err)
	}
	return a, md, nil
}

// Encode renders a as a little-endian ImageJ TIFF. Planes are reordered
// into C, Z, T order, and the description names the reordered axes.
func Encode(a *ndarray.Array, md Metadata) ([]byte, error) {
	shape := a.Shape()
	axes, err := ResolveAxes(md.Axes, len(shape))
	if err != nil {
		return nil, err
	}
	format, err := sampleFormat(a.DType())
	if err != nil {
		return nil, err
	}

	ndim := len(shape)
	width, height := shape[ndim-1], shape[ndim-2]
	canon := canonicalAxes(axes)
	order, cshape := planeOrder(axes, canon, shape)
	pages := len(order)
	bps := a.DType().Bits() / 8
	pageLen := width * height * bps
	desc := description(canon, cshape, pages)

	total := 8 + pages*(2+11*12+4+pageLen+2) + len(desc) + 2
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes exceeds classic tiff", ErrUnsupported, total)
	}

	le := binary.LittleEndian
	var buf bytes.Buffer
	buf.Grow(total)
	buf.WriteString("II")
	_ = binary.Write(&buf, le, uint16(42))
	_ = binary.Write(&buf, le, uint32(8))

	values := a.Values()
	pos := 8
	for p := 0; p < pages; p++ {
		n := 10
		if p == 0 {
			n++
		}
		ifdLen := 2 + 12*n + 4
		descOff := pos + ifdLen
		dataOff := descOff
		if p == 0 {
			dataOff = even(descOff + len(desc))
		}
		next := even(dataOff + pageLen)
		if p == pages-1 {
			next = 0
		}

		entries := []ifdEntry{
			{tagImageWidth, typeLong, 1, uint32(width)},
			{tagImageLength, typeLong, 1, uint32(height)},
			{tagBitsPerSample, typeShort, 1, uint32(bps * 8)},
			{tagCompression, typeShort, 1, 1},
			{tagPhotometric, typeShort, 1, 1},
		}
		if p == 0 {
			entries = append(entries, ifdEntry{tagImageDescription, typeASCII, uint32(len(desc)), uint32(descOff)})
		}
		entries = append(entries,
			ifdEntry{tagStripOffsets, typeLong, 1, uint32(dataOff)},
			ifdEntry{tagSamplesPerPixel, typeShort, 1, 1},
			ifdEntry{tagRowsPerStrip, typeLong, 1, uint32(height)},
			ifdEntry{tagStripByteCounts, typeLong, 1, uint32(pageLen)},
			ifdEntry{tagSampleFormat, typeShort, 1, format},
		)

		_ = binary.Write(&buf, le, uint16(len(entries)))
		for _, e := range entries {
			_ = binary.Write(&buf, le, e)
		}
		_ = binary.Write(&buf, le, uint32(next))
		if p == 0 {
			buf.WriteString(desc)
			pad(&buf, dataOff)
		}

		src := order[p] * width * height
		writeSamples(&buf, a.DType(), values[src:src+width*height])
		if next != 0 {
			pad(&buf, next)
		}
		pos = next
	}
	return buf.Bytes(), nil
}

type ifdEntry struct {
	Tag   uint16
	Type  uint16
	Count uint32
	Value uint32
}

func even(n int) int { return n + n%2 }

func pad(buf *bytes.Buffer, to int) {
	for buf.Len() < to {
		buf.WriteByte(0)
	}
}

// canonicalAxes keeps X and Y and lists the remaining axes as C, Z, T.
func canonicalAxes(axes string) string {
	out := axes[:2]
	for _, r := range "CZT" {
		if strings.ContainsRune(axes[2:], r) {
			out += string(r)
		}
	}
	return out
}

// planeOrder maps each page of the canon layout to the index of the plane in
// an array of shape laid out by axes. It also returns the canon shape.
func planeOrder(axes, canon string, shape []int) ([]int, []int) {
	ndim := len(shape)
	size := map[byte]int{}
	stride := map[byte]int{}
	n := 1
	for i := 2; i < ndim; i++ {
		size[axes[i]] = shape[ndim-1-i]
		stride[axes[i]] = n
		n *= size[axes[i]]
	}
	cshape := slices.Clone(shape)
	for i := 2; i < ndim; i++ {
		cshape[ndim-1-i] = size[canon[i]]
	}

	order := make([]int, n)
	idx := map[byte]int{}
	for p := range order {
		for ax, st := range stride {
			order[p] += idx[ax] * st
		}
		for i := 2; i < ndim; i++ {
			ax := canon[i]
			if idx[ax]++; idx[ax] < size[ax] {
				break
			}
			idx[ax] = 0
		}
	}
	return order, cshape
}

func sampleFormat(d ndarray.DType) (uint32, error) {
	switch {
	case d.Bits() == 0:
		return 0, fmt.Errorf("%w: dtype %s", ErrUnsupported, d)
	case d.Float():
		return sampleFloat, nil
	case d.Signed():
		return sampleSigned, nil
	}
	return sampleUint, nil
}

func writeSamples(buf *bytes.Buffer, dtype ndarray.DType, vals []float64) {
	le := binary.LittleEndian
	var tmp [8]byte
	n := dtype.Bits() / 8
	for _, v := range vals {
		switch dtype {
		case ndarray.Uint8:
			tmp[0] = uint8(v)
		case ndarray.Int8:
			tmp[0] = uint8(int8(v))
		case ndarray.Uint16:
			le.PutUint16(tmp[:], uint16(v))
		case ndarray.Int16:
			le.PutUint16(tmp[:], uint16(int16(v)))
		case ndarray.Uint32:
			le.PutUint32(tmp[:], uint32(v))
		case ndarray.Int32:
			le.PutUint32(tmp[:], uint32(int32(v)))
		case ndarray.Float32:
			le.PutUint32(tmp[:], math.Float32bits(float32(v)))
		case ndarray.Float64:
			le.PutUint64(tmp[:], math.Float64bits(v))
		}
		buf.Write(tmp[:n])
	}
}

func description(axes string, shape []int, pages int) string {
	counts := map[rune]int{}
	ndim := len(shape)
	for i, r := range axes {
		counts[r] = shape[ndim-1-i]
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "ImageJ=%s\nimages=%d\n", imageJVersion, pages)
	multi := 0
	for _, kv := range []struct {
		key string
		ax  rune
	}{{"channels", 'C'}, {"slices", 'Z'}, {"frames", 'T'}} {
		if c := counts[kv.ax]; c > 1 {
			fmt.Fprintf(&sb, "%s=%d\n", kv.key, c)
			multi++
		}
	}
	if multi > 1 {
		sb.WriteString("hyperstack=true\n")
	}
	fmt.Fprintf(&sb, "axes=%s\n", axes)
	sb.WriteByte(0)
	return sb.String()
}

// Decode parses uncompressed single-sample TIFFs of any page count in either
// byte order. Other single-page files are handed to golang.org/x/image/tiff.
func Decode(b []byte) (*ndarray.Array, Metadata, error) {
	r, err := newReader(b)
	if err != nil {
		return nil, Metadata{}, err
	}
	pages, err := r.pages()
	if err != nil {
		return nil, Metadata{}, err
	}
	if len(pages) == 1 && !pages[0].plain() {
		return decodeFallback(b)
	}

	first := pages[0]
	dtype, err := first.dtype()
	if err != nil {
		return nil, Metadata{}, err
	}
	w, h := int(first.width), int(first.height)
	if w == 0 || h == 0 {
		return nil, Metadata{}, fmt.Errorf("%w: empty page", ErrFormat)
	}
	bps := dtype.Bits() / 8
	vals := make([]float64, 0, len(pages)*w*h)
	for i, p := range pages {
		if !p.plain() {
			return nil, Metadata{}, fmt.Errorf("%w: page %d is compressed or multi-sample", ErrUnsupported, i)
		}
		pd, err := p.dtype()
		if err != nil {
			return nil, Metadata{}, err
		}
		if int(p.width) != w || int(p.height) != h || pd != dtype {
			return nil, Metadata{}, fmt.Errorf("%w: page %d differs from page 0", ErrUnsupported, i)
		}
		raw, err := r.strips(p, w*h*bps)
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("page %d: %w", i, err)
		}
		vals = appendSamples(vals, r.order, dtype, raw)
	}

	shape, axes := shapeOf(first.description, len(pages), w, h)
	a, err := ndarray.New(dtype, shape...)
	if err != nil {
		return nil, Metadata{}, err
	}
	copy(a.Values(), vals)
	return a, Metadata{Axes: axes}, nil
}

func decodeFallback(b []byte) (*ndarray.Array, Metadata, error) {
	img, err := xtiff.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	a, err := FromImage(img)
	if err != nil {
		return nil, Metadata{}, err
	}
	md := Metadata{Axes: "XY"}
	if a.NDim() == 3 {
		md.Axes = "XYC"
	}
	return a, md, nil
}

func appendSamples(dst []float64, order binary.ByteOrder, dtype ndarray.DType, raw []byte) []float64 {
	n := dtype.Bits() / 8
	for i := 0; i+n <= len(raw); i += n {
		var v float64
		switch b := raw[i:]; dtype {
		case ndarray.Uint8:
			v = float64(b[0])
		case ndarray.Int8:
			v = float64(int8(b[0]))
		case ndarray.Uint16:
			v = float64(order.Uint16(b))
		case ndarray.Int16:
			v = float64(int16(order.Uint16(b)))
		case ndarray.Uint32:
			v = float64(order.Uint32(b))
		case ndarray.Int32:
			v = float64(int32(order.Uint32(b)))
		case ndarray.Float32:
			v = float64(math.Float32frombits(order.Uint32(b)))
		case ndarray.Float64:
			v = math.Float64frombits(order.Uint64(b))
		}
		dst = append(dst, v)
	}
	return dst
}

// shapeOf rebuilds the array shape from an ImageJ description.
func shapeOf(desc string, pages, w, h int) ([]int, string) {
	kv := parseDescription(desc)
	counts := map[rune]int{'X': w, 'Y': h, 'C': 1, 'Z': 1, 'T': 1}
	for key, ax := range map[string]rune{"channels": 'C', "slices": 'Z', "frames": 'T'} {
		if n, err := strconv.Atoi(kv[key]); err == nil && n > 0 {
			counts[ax] = n
		}
	}

	// axes= is only trusted when it agrees with ImageJ's page order
	if axes, err := ResolveAxes(kv["axes"], len(kv["axes"])); err == nil && kv["axes"] != "" && canonicalAxes(axes) == axes {
		shape := make([]int, len(axes))
		n := 1
		for i, r := range axes {
			shape[len(axes)-1-i] = counts[r]
			if i >= 2 {
				n *= counts[r]
			}
		}
		if n == pages {
			return shape, axes
		}
	}

	// ImageJ's own page order is XYCZT.
	axes := "XY"
	shape := []int{h, w}
	n := 1
	for _, r := range "CZT" {
		if counts[r] > 1 {
			axes += string(r)
			shape = append([]int{counts[r]}, shape...)
			n *= counts[r]
		}
	}
	if n == pages {
		return shape, axes
	}
	if pages == 1 {
		return []int{h, w}, "XY"
	}
	return []int{pages, h, w}, "XYZ"
}

func parseDescription(desc string) map[string]string {
	kv := map[string]string{}
	if !strings.HasPrefix(desc, "ImageJ=") {
		return kv
	}
	for _, line := range strings.Split(strings.TrimRight(desc, "\x00"), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			kv[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return kv
}

// ---------------------------------------------------------------------------
// IFD reader
// ---------------------------------------------------------------------------

type reader struct {
	b     []byte
	order binary.ByteOrder
}

type page struct {
	width, height uint32
	bits          uint32
	compression   uint32
	samples       uint32
	format        uint32
	offsets       []uint32
	counts        []uint32
	description   string
}

func (p page) plain() bool { return p.compression == 1 && p.samples == 1 }

var pageDTypes = map[[2]uint32]ndarray.DType{
	{sampleUint, 8}:    ndarray.Uint8,
	{sampleUint, 16}:   ndarray.Uint16,
	{sampleUint, 32}:   ndarray.Uint32,
	{sampleSigned, 8}:  ndarray.Int8,
	{sampleSigned, 16}: ndarray.Int16,
	{sampleSigned, 32}: ndarray.Int32,
	{sampleFloat, 32}:  ndarray.Float32,
	{sampleFloat, 64}:  ndarray.Float64,
}

// dtype maps SampleFormat and BitsPerSample to an array type. 64-bit
// integers are refused since float64 cannot hold them exactly.
func (p page) dtype() (ndarray.DType, error) {
	format := p.format
	if format == 4 {
		// undefined, read as unsigned
		format = sampleUint
	}
	if d, ok := pageDTypes[[2]uint32{format, p.bits}]; ok {
		return d, nil
	}
	return ndarray.Invalid, fmt.Errorf("%w: %d-bit samples with format %d", ErrUnsupported, p.bits, p.format)
}

func newReader(b []byte) (*reader, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: short header", ErrFormat)
	}
	r := &reader{b: b}
	switch string(b[:2]) {
	case "II":
		r.order = binary.LittleEndian
	case "MM":
		r.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark", ErrFormat)
	}
	if m := r.order.Uint16(b[2:]); m != 42 {
		return nil, fmt.Errorf("%w: magic %d", ErrUnsupported, m)
	}
	return r, nil
}

func (r *reader) pages() ([]page, error) {
	var out []page
	seen := map[uint32]bool{}
	off := r.order.Uint32(r.b[4:])
	for off != 0 {
		if seen[off] || len(out) >= maxPages {
			return nil, fmt.Errorf("%w: ifd loop", ErrFormat)
		}
		seen[off] = true
		p, next, err := r.ifd(off)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		off = next
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrFormat)
	}
	return out, nil
}

func (r *reader) ifd(off uint32) (page, uint32, error) {
	p := page{compression: 1, samples: 1, format: sampleUint, bits: 1}
	if int(off)+2 > len(r.b) {
		return p, 0, fmt.Errorf("%w: ifd offset %d", ErrFormat, off)
	}
	n := int(r.order.Uint16(r.b[off:]))
	end := int(off) + 2 + 12*n + 4
	if end > len(r.b) {
		return p, 0, fmt.Errorf("%w: truncated ifd", ErrFormat)
	}
	for i := 0; i < n; i++ {
		e := r.b[int(off)+2+12*i:]
		tag := r.order.Uint16(e)
		typ := r.order.Uint16(e[2:])
		count := r.order.Uint32(e[4:])
		if tag == tagImageDescription {
			s, err := r.ascii(typ, count, e[8:12])
			if err != nil {
				return p, 0, err
			}
			p.description = s
			continue
		}
		vals, err := r.ints(typ, count, e[8:12])
		if err != nil {
			return p, 0, fmt.Errorf("tag %d: %w", tag, err)
		}
		if len(vals) == 0 {
			continue
		}
		switch tag {
		case tagImageWidth:
			p.width = vals[0]
		case tagImageLength:
			p.height = vals[0]
		case tagBitsPerSample:
			p.bits = vals[0]
		case tagCompression:
			p.compression = vals[0]
		case tagSamplesPerPixel:
			p.samples = vals[0]
		case tagSampleFormat:
			p.format = vals[0]
		case tagStripOffsets:
			p.offsets = vals
		case tagStripByteCounts:
			p.counts = vals
		}
	}
	return p, r.order.Uint32(r.b[end-4:]), nil
}

func (r *reader) data(size int, count uint32, field []byte) ([]byte, error) {
	n := size * int(count)
	if n <= 4 {
		return field[:n], nil
	}
	off := int(r.order.Uint32(field))
	if off < 0 || off+n > len(r.b) {
		return nil, fmt.Errorf("%w: value out of range", ErrFormat)
	}
	return r.b[off : off+n], nil
}

func (r *reader) ints(typ uint16, count uint32, field []byte) ([]uint32, error) {
	size := map[uint16]int{typeByte: 1, typeShort: 2, typeLong: 4}[typ]
	if size == 0 {
		return nil, nil
	}
	raw, err := r.data(size, count, field)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		switch size {
		case 1:
			out[i] = uint32(raw[i])
		case 2:
			out[i] = uint32(r.order.Uint16(raw[2*i:]))
		case 4:
			out[i] = r.order.Uint32(raw[4*i:])
		}
	}
	return out, nil
}

func (r *reader) ascii(typ uint16, count uint32, field []byte) (string, error) {
	if typ != typeASCII {
		return "", nil
	}
	raw, err := r.data(1, count, field)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (r *reader) strips(p page, want int) ([]byte, error) {
	if len(p.offsets) == 0 || len(p.offsets) != len(p.counts) {
		return nil, fmt.Errorf("%w: strip tables", ErrFormat)
	}
	out := make([]byte, 0, want)
	for i, off := range p.offsets {
		end := int(off) + int(p.counts[i])
		if end > len(r.b) {
			return nil, fmt.Errorf("%w: strip %d out of range", ErrFormat, i)
		}
		out = append(out, r.b[off:end]...)
	}
	if len(out) < want {
		return nil, fmt.Errorf("%w: %d pixel bytes, want %d", ErrFormat, len(out), want)
	}
	return slices.Clip(out[:want]), nil
}
