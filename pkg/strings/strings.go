// Package strings provides pooled string-building utilities for crmflow.
package strings

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"unsafe"
)

// BytesToString converts a byte slice to a string without allocation.
// The returned string shares memory with the slice; do not modify the
// slice afterwards.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// StringToBytes converts a string to a byte slice without allocation.
// The returned slice shares memory with the string; do not modify it.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// Clone returns a copy of s backed by freshly allocated memory. Use it
// before a pooled builder's buffer is recycled.
func Clone(s string) string {
	return strings.Clone(s)
}

// Builder is a byte-buffer string builder that can be pooled and reused.
type Builder struct {
	buf []byte
}

// NewBuilder creates a builder with the given initial capacity.
func NewBuilder(capacity int) *Builder {
	return &Builder{buf: make([]byte, 0, capacity)}
}

// WriteString appends s to the builder.
func (b *Builder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// WriteByte appends a single byte.
func (b *Builder) WriteByte(c byte) {
	b.buf = append(b.buf, c)
}

// Write implements io.Writer.
func (b *Builder) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the built string using zero-copy conversion. Callers
// keeping the result past PutBuilder must Clone it.
func (b *Builder) String() string {
	return BytesToString(b.buf)
}

// Bytes returns the underlying buffer.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Len returns the number of bytes written.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Reset truncates the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
}

// BuilderSize selects a pool bucket by expected output size.
type BuilderSize int

const (
	Small  BuilderSize = iota // < 1KB
	Medium                    // 1KB - 16KB
	Large                     // 16KB+
)

var (
	smallBuilderPool  = &sync.Pool{New: func() interface{} { return NewBuilder(1024) }}
	mediumBuilderPool = &sync.Pool{New: func() interface{} { return NewBuilder(16 * 1024) }}
	largeBuilderPool  = &sync.Pool{New: func() interface{} { return NewBuilder(64 * 1024) }}
)

func poolFor(size BuilderSize) *sync.Pool {
	switch size {
	case Medium:
		return mediumBuilderPool
	case Large:
		return largeBuilderPool
	default:
		return smallBuilderPool
	}
}

// GetBuilder retrieves a pooled builder of the specified size bucket.
func GetBuilder(size BuilderSize) *Builder {
	builder := poolFor(size).Get().(*Builder)
	builder.Reset()
	return builder
}

// PutBuilder returns a builder to its pool.
func PutBuilder(builder *Builder, size BuilderSize) {
	if builder == nil {
		return
	}
	builder.Reset()
	poolFor(size).Put(builder)
}

func sizeForLen(n int) BuilderSize {
	switch {
	case n > 16*1024:
		return Large
	case n > 1024:
		return Medium
	default:
		return Small
	}
}

// Concat concatenates strings using a pooled builder.
func Concat(parts ...string) string {
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}

	total := 0
	for _, s := range parts {
		total += len(s)
	}

	size := sizeForLen(total)
	builder := GetBuilder(size)
	defer PutBuilder(builder, size)

	for _, s := range parts {
		builder.WriteString(s)
	}
	return Clone(builder.String())
}

// Sprintf is a pooled alternative to fmt.Sprintf.
func Sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}

	size := sizeForLen(len(format) + len(args)*16)
	builder := GetBuilder(size)
	defer PutBuilder(builder, size)

	fmt.Fprintf(builder, format, args...)
	return Clone(builder.String())
}

// JoinPooled joins strings with a delimiter using a pooled builder.
func JoinPooled(parts []string, delimiter string) string {
	if len(parts) == 0 {
		return ""
	}
	if len(parts) == 1 {
		return parts[0]
	}

	total := (len(parts) - 1) * len(delimiter)
	for _, s := range parts {
		total += len(s)
	}

	size := sizeForLen(total)
	builder := GetBuilder(size)
	defer PutBuilder(builder, size)

	builder.WriteString(parts[0])
	for _, s := range parts[1:] {
		builder.WriteString(delimiter)
		builder.WriteString(s)
	}
	return Clone(builder.String())
}

// URLBuilder builds request URLs on top of a pooled builder.
type URLBuilder struct {
	builder   *Builder
	size      BuilderSize
	hasParams bool
}

// NewURLBuilder creates a URL builder seeded with baseURL.
func NewURLBuilder(baseURL string) *URLBuilder {
	size := Small
	if len(baseURL) > 1024 {
		size = Medium
	}

	builder := GetBuilder(size)
	builder.WriteString(baseURL)

	return &URLBuilder{
		builder:   builder,
		size:      size,
		hasParams: strings.Contains(baseURL, "?"),
	}
}

// AddPath appends escaped path segments.
func (ub *URLBuilder) AddPath(segments ...string) *URLBuilder {
	for _, segment := range segments {
		if segment != "" {
			ub.builder.WriteByte('/')
			ub.builder.WriteString(url.PathEscape(segment))
		}
	}
	return ub
}

// AddParam appends an escaped query parameter.
func (ub *URLBuilder) AddParam(key, value string) *URLBuilder {
	if ub.hasParams {
		ub.builder.WriteByte('&')
	} else {
		ub.builder.WriteByte('?')
		ub.hasParams = true
	}

	ub.builder.WriteString(url.QueryEscape(key))
	ub.builder.WriteByte('=')
	ub.builder.WriteString(url.QueryEscape(value))
	return ub
}

// AddParamInt appends an integer query parameter.
func (ub *URLBuilder) AddParamInt(key string, value int) *URLBuilder {
	return ub.AddParam(key, strconv.Itoa(value))
}

// AddParamBool appends a boolean query parameter.
func (ub *URLBuilder) AddParamBool(key string, value bool) *URLBuilder {
	return ub.AddParam(key, strconv.FormatBool(value))
}

// String returns the built URL.
func (ub *URLBuilder) String() string {
	return Clone(ub.builder.String())
}

// Close releases the underlying builder back to its pool.
func (ub *URLBuilder) Close() {
	if ub.builder != nil {
		PutBuilder(ub.builder, ub.size)
		ub.builder = nil
	}
}
