package graph

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// LoadParams reads learnable blobs from a raw little-endian float32 file.
// Blobs are stored back to back in layer order, weights before biases, with
// no header; the file must hold exactly the net's parameter count.
func (n *Net) LoadParams(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return n.ReadParams(bufio.NewReader(file))
}

// ReadParams is LoadParams over a reader.
func (n *Net) ReadParams(r io.Reader) error {
	for li, l := range n.layers {
		for pi, p := range l.Params() {
			data := make([]float32, p.Count())
			if err := binary.Read(r, binary.LittleEndian, data); err != nil {
				return fmt.Errorf("failed to load param %d of layer %s: %w", pi, n.params[li].Name, err)
			}
			if err := p.SetData(data); err != nil {
				return err
			}
		}
	}

	var extra [1]byte
	if _, err := io.ReadFull(r, extra[:]); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("params file holds more values than the net")
		}
		return err
	}
	return nil
}

// SaveParams writes learnable blobs in the format LoadParams reads.
func (n *Net) SaveParams(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)
	if err := n.WriteParams(w); err != nil {
		file.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteParams is SaveParams over a writer.
func (n *Net) WriteParams(w io.Writer) error {
	for _, p := range n.Params() {
		if err := binary.Write(w, binary.LittleEndian, p.Data()); err != nil {
			return err
		}
	}
	return nil
}
