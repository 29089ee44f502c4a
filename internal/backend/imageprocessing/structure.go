package imageprocessing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// verifyStructure walks the container structure of PNG and JPEG files without
// decoding any pixel data.
func verifyStructure(format Format, data []byte) error {
	switch format {
	case FormatPNG:
		return verifyPNG(data)
	case FormatJPEG:
		return verifyJPEG(data)
	default:
		return fmt.Errorf("no structural verification for format %s", format)
	}
}

// verifyPNG checks the signature, every chunk's length and CRC, that IHDR comes
// first and that IEND is present.
func verifyPNG(data []byte) error {
	if !hasCorrectPngSignature(data) {
		return errors.New("missing PNG signature")
	}

	pos := len(pngSignature)
	first := true
	for {
		if len(data)-pos < 12 {
			return fmt.Errorf("truncated chunk at offset %d", pos)
		}
		length := binary.BigEndian.Uint32(data[pos:])
		if length > 0x7fffffff {
			return fmt.Errorf("chunk length %d out of range at offset %d", length, pos)
		}
		end := pos + 12 + int(length)
		if end > len(data) {
			return fmt.Errorf("chunk at offset %d overruns file", pos)
		}

		chunkType := data[pos+4 : pos+8]
		for _, c := range chunkType {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
				return fmt.Errorf("invalid chunk type %q at offset %d", chunkType, pos)
			}
		}
		want := binary.BigEndian.Uint32(data[end-4 : end])
		if got := crc32.ChecksumIEEE(data[pos+4 : end-4]); got != want {
			return fmt.Errorf("CRC mismatch in %s chunk at offset %d", chunkType, pos)
		}

		name := string(chunkType)
		if first && name != "IHDR" {
			return fmt.Errorf("first chunk is %s, expected IHDR", name)
		}
		first = false

		pos = end
		if name == "IEND" {
			// trailing bytes are dropped by re-encoding
			return nil
		}
	}
}

// verifyJPEG walks marker segments from SOI up to the first SOS and requires
// an EOI marker somewhere after the entropy coded data.
func verifyJPEG(data []byte) error {
	if len(data) < 4 || !hasJpegSOI(data) {
		return errors.New("missing JPEG SOI marker")
	}

	pos := 2
	for {
		if pos >= len(data) {
			return errors.New("truncated before start of scan")
		}
		if data[pos] != 0xFF {
			return fmt.Errorf("expected marker at offset %d", pos)
		}
		// fill bytes
		for pos < len(data) && data[pos] == 0xFF {
			pos++
		}
		if pos >= len(data) {
			return errors.New("truncated marker")
		}
		marker := data[pos]
		pos++

		switch {
		case marker == 0xD9:
			return errors.New("EOI before start of scan")
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			// standalone markers carry no length
			continue
		}

		if len(data)-pos < 2 {
			return fmt.Errorf("truncated segment 0x%02X", marker)
		}
		segLen := int(binary.BigEndian.Uint16(data[pos:]))
		if segLen < 2 || pos+segLen > len(data) {
			return fmt.Errorf("invalid length %d for segment 0x%02X", segLen, marker)
		}
		pos += segLen

		if marker == 0xDA {
			break
		}
	}

	if !bytes.Contains(data[pos:], []byte{0xFF, 0xD9}) {
		return errors.New("missing JPEG EOI marker")
	}
	return nil
}
