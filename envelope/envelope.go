// SPDX-License-Identifier: Apache-2.0

// Package envelope wraps encoded documents in an optional compression layer.
package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the compression applied to a file.
type Compression uint8

const (
	None Compression = iota
	Zstd
	LZ4
)

// maxDecodedSize bounds the memory a zstd frame may expand to.
const maxDecodedSize = 1 << 30

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// ErrOptions is returned for compression options the codec cannot honor.
var ErrOptions = errors.New("invalid compression options")

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Compression(%d)", c)
	}
}

// Set parses a compression name. It lets Compression serve as a flag value.
func (c *Compression) Set(value string) error {
	switch strings.ToLower(value) {
	case "none", "":
		*c = None
	case "zstd", "zs":
		*c = Zstd
	case "lz4":
		*c = LZ4
	default:
		return fmt.Errorf("compression %q is invalid", value)
	}
	return nil
}

// Type names the flag value type in help output.
func (c *Compression) Type() string {
	return "compression"
}

// UnmarshalText accepts the names Set does.
func (c *Compression) UnmarshalText(text []byte) error {
	return c.Set(string(text))
}

// Detect picks the compression implied by a file name. Extensions ending in
// "zs" (".zs", ".szs") mean zstd and ".lz4" means lz4.
func Detect(path string) Compression {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".lz4":
		return LZ4
	case strings.HasSuffix(ext, "zs"):
		return Zstd
	default:
		return None
	}
}

// Sniff picks the compression from the frame magic at the start of data.
func Sniff(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return Zstd
	case bytes.HasPrefix(data, lz4Magic):
		return LZ4
	default:
		return None
	}
}

// Options tunes compression.
type Options struct {
	// Level is the codec level. Zero selects the codec default; zstd accepts
	// 1-22 and lz4 accepts 1-9.
	Level int
	// Dict is a zstd dictionary used on both compression and decompression.
	Dict []byte
}

// The default coders are reused across calls; zstd encoders and decoders are
// safe for concurrent use.
var (
	defaultEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	defaultDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	})
)

// Compress applies c to data. For None the input is returned unchanged.
func Compress(data []byte, c Compression, opts Options) ([]byte, error) {
	switch c {
	case None:
		return data, nil
	case Zstd:
		return compressZstd(data, opts)
	case LZ4:
		return compressLZ4(data, opts)
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}

// Decompress reverses [Compress].
func Decompress(data []byte, c Compression, opts Options) ([]byte, error) {
	switch c {
	case None:
		return data, nil
	case Zstd:
		return decompressZstd(data, opts)
	case LZ4:
		return decompressLZ4(data)
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}

func compressZstd(data []byte, opts Options) ([]byte, error) {
	if opts.Level < 0 || opts.Level > 22 {
		return nil, fmt.Errorf("%w: zstd level %d outside 1-22", ErrOptions, opts.Level)
	}
	if opts.Level == 0 && len(opts.Dict) == 0 {
		enc, err := defaultEncoder()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(data, nil), nil
	}

	encOpts := []zstd.EOption{zstd.WithEncoderLevel(zstd.SpeedDefault)}
	if opts.Level > 0 {
		encOpts[0] = zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level))
	}
	if len(opts.Dict) > 0 {
		encOpts = append(encOpts, zstd.WithEncoderDict(opts.Dict))
	}
	enc, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte, opts Options) ([]byte, error) {
	if len(opts.Dict) == 0 {
		dec, err := defaultDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	}

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(maxDecodedSize),
		zstd.WithDecoderDicts(opts.Dict),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

// LZ4 uses the frame format so the decompressed size need not be stored
// out of band.
func compressLZ4(data []byte, opts Options) ([]byte, error) {
	if opts.Level < 0 || opts.Level >= len(lz4Levels) {
		return nil, fmt.Errorf("%w: lz4 level %d outside 1-9", ErrOptions, opts.Level)
	}
	if len(opts.Dict) > 0 {
		return nil, fmt.Errorf("%w: dictionaries are only supported for zstd", ErrOptions)
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := zw.Apply(lz4.CompressionLevelOption(lz4Levels[opts.Level])); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(io.LimitReader(zr, maxDecodedSize+1))
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if len(out) > maxDecodedSize {
		return nil, fmt.Errorf("lz4 decompress: output exceeds %d bytes", maxDecodedSize)
	}
	return out, nil
}
