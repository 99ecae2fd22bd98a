// Package wav writes 16-bit linear PCM into a RIFF/WAVE file
// incrementally, keeping the container valid after every append.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

const HeaderSize = 44

// Format describes the PCM layout of one file. Fixed at Create time;
// the header always carries these values.
type Format struct {
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample
}

// FrameSize returns the byte size of one frame (all channels).
func (f Format) FrameSize() int {
	return f.Channels * f.SampleWidth
}

// Writer appends PCM to a growing WAV file. The RIFF and data chunk
// sizes are patched after every append, so the file parses at any
// point while recording is still in progress.
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	format    Format
	rem       []byte // sub-frame tail held back from the previous append
	frames    uint64
	dataBytes uint32
	closed    bool
}

// Create opens path (truncating any previous recording) and writes an
// empty-payload header so the file is valid from the first moment.
func Create(path string, format Format) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav create: %w", err)
	}
	if _, err := f.Write(header(format, 0)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("wav header: %w", err)
	}
	return &Writer{f: f, path: path, format: format}, nil
}

func header(format Format, dataSize uint32) []byte {
	buf := make([]byte, HeaderSize)
	byteRate := format.SampleRate * format.FrameSize()
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(HeaderSize-8)+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // linear PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(format.FrameSize()))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(format.SampleWidth*8))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
	return buf
}

// Write appends pcm as whole frames. A trailing partial frame is kept
// back and prepended to the next call, so the payload only ever grows
// by whole frames and the total across calls is sum(len)/frameSize.
// Writing to a closed Writer is a silent no-op (late drains race with
// stop; that is not an error).
func (w *Writer) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.f == nil || len(pcm) == 0 {
		return nil
	}
	frameSize := w.format.FrameSize()
	if frameSize <= 0 {
		return nil
	}

	buf := pcm
	if len(w.rem) > 0 {
		buf = make([]byte, 0, len(w.rem)+len(pcm))
		buf = append(buf, w.rem...)
		buf = append(buf, pcm...)
	}
	n := len(buf) - len(buf)%frameSize

	if n > 0 {
		if _, err := w.f.Write(buf[:n]); err != nil {
			return fmt.Errorf("wav append: %w", err)
		}
		w.dataBytes += uint32(n)
		w.frames += uint64(n / frameSize)
		if err := w.patchSizes(); err != nil {
			return err
		}
	}

	w.rem = append(w.rem[:0], buf[n:]...)
	return nil
}

// patchSizes rewrites the RIFF chunk size (offset 4) and data chunk
// size (offset 40) in place. WriteAt leaves the append offset alone.
func (w *Writer) patchSizes() error {
	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], uint32(HeaderSize-8)+w.dataBytes)
	if _, err := w.f.WriteAt(field[:], 4); err != nil {
		return fmt.Errorf("wav riff size: %w", err)
	}
	binary.LittleEndian.PutUint32(field[:], w.dataBytes)
	if _, err := w.f.WriteAt(field[:], 40); err != nil {
		return fmt.Errorf("wav data size: %w", err)
	}
	return nil
}

// Close finalizes the size fields and releases the file. Any buffered
// sub-frame tail is discarded. Calling Close again is a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.rem = nil

	err := w.patchSizes()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}

// Duration returns the seconds of audio written so far. Never
// decreases for the lifetime of one Writer.
func (w *Writer) Duration() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.format.SampleRate <= 0 {
		return 0
	}
	return float64(w.frames) / float64(w.format.SampleRate)
}

// Frames returns the number of whole frames written.
func (w *Writer) Frames() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) Format() Format { return w.format }

// Info parses the header of a finished or in-progress file and
// returns its format and whole-frame count.
func Info(path string) (Format, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, 0, err
	}
	defer f.Close()

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return Format{}, 0, fmt.Errorf("wav read header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" || string(hdr[12:16]) != "fmt " {
		return Format{}, 0, fmt.Errorf("wav: %s is not a RIFF/WAVE file", path)
	}

	format := Format{
		SampleRate:  int(binary.LittleEndian.Uint32(hdr[24:28])),
		Channels:    int(binary.LittleEndian.Uint16(hdr[22:24])),
		SampleWidth: int(binary.LittleEndian.Uint16(hdr[34:36])) / 8,
	}
	dataSize := binary.LittleEndian.Uint32(hdr[40:44])
	frameSize := format.FrameSize()
	if frameSize <= 0 {
		return format, 0, fmt.Errorf("wav: %s has a zero frame size", path)
	}
	return format, uint64(int(dataSize) / frameSize), nil
}
