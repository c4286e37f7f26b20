package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

type streamMode int

const (
	modeUnopened streamMode = iota
	modeArray               // inside a top-level [ ... ]
	modeObjects             // one or more top-level objects
	modeDone
)

// JSONSource streams seeds out of a JSON document without materializing it.
// The document is either an array of objects, a single object, or a run of
// concatenated objects (NDJSON). Each call to Next decodes exactly one
// top-level object. Numbers are kept as json.Number so large integers reach
// the store without passing through float64.
type JSONSource struct {
	name      string
	path      string
	file      *os.File
	input     io.Reader
	dec       *json.Decoder
	mode      streamMode
	normalize Normalizer
	offset    int64
	mu        sync.Mutex
}

// NewJSONSource creates a source reading the file at path.
func NewJSONSource(name, path string) *JSONSource {
	return &JSONSource{
		name: name,
		path: path,
	}
}

// NewReaderSource creates a source over an already open stream. The caller
// keeps ownership of r.
func NewReaderSource(name string, r io.Reader) *JSONSource {
	return &JSONSource{
		name:  name,
		input: r,
	}
}

// SetNormalizer installs a hook applied to every seed before Next returns it.
func (s *JSONSource) SetNormalizer(n Normalizer) {
	s.normalize = n
}

func (s *JSONSource) Name() string { return s.name }

func (s *JSONSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.input == nil {
		f, err := os.Open(s.path)
		if err != nil {
			return errors.Wrapf(err, "opening seed file %s", s.path)
		}
		s.file = f
		s.input = f
	}

	br := bufio.NewReader(s.input)
	first, err := firstSignificantByte(br)
	if err == io.EOF {
		// Nothing but whitespace: an empty seed file.
		s.mode = modeDone
		return nil
	}
	if err != nil {
		s.closeLocked()
		return errors.Wrapf(err, "reading seed source %s", s.name)
	}

	s.dec = json.NewDecoder(br)
	s.dec.UseNumber()
	switch first {
	case '[':
		if _, err := s.dec.Token(); err != nil {
			s.closeLocked()
			return s.parseError(err)
		}
		s.mode = modeArray
	case '{':
		s.mode = modeObjects
	default:
		s.closeLocked()
		return s.parseError(fmt.Errorf("expected object or array, found %q", first))
	}
	return nil
}

func (s *JSONSource) Next(ctx context.Context) (Seed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	switch s.mode {
	case modeArray:
		if !s.dec.More() {
			return nil, s.finishArray()
		}
	case modeObjects:
		if !s.dec.More() {
			return nil, s.finishObjects()
		}
	case modeDone:
		return nil, io.EOF
	default:
		return nil, errors.Errorf("seed source %s is not open", s.name)
	}

	var seed Seed
	if err := s.dec.Decode(&seed); err != nil {
		s.mode = modeDone
		return nil, s.parseError(err)
	}
	if seed == nil {
		s.mode = modeDone
		return nil, s.parseError(errors.New("null record"))
	}

	if s.normalize != nil {
		normalized, err := s.normalize(seed)
		if err != nil {
			s.mode = modeDone
			return nil, errors.Wrapf(err, "seed %d of %s", s.offset+1, s.name)
		}
		seed = normalized
	}

	s.offset++
	return seed, nil
}

// finishArray consumes the closing bracket and rejects anything after it.
func (s *JSONSource) finishArray() error {
	s.mode = modeDone
	if _, err := s.dec.Token(); err != nil {
		return s.parseError(err)
	}
	if tok, err := s.dec.Token(); err != io.EOF {
		if err != nil {
			return s.parseError(err)
		}
		return s.parseError(fmt.Errorf("unexpected %v after top-level array", tok))
	}
	return io.EOF
}

// finishObjects ends a run of top-level objects. More reports false both at
// end of input and in front of a stray closing delimiter.
func (s *JSONSource) finishObjects() error {
	s.mode = modeDone
	tok, err := s.dec.Token()
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return s.parseError(err)
	}
	return s.parseError(fmt.Errorf("unexpected %v after top-level object", tok))
}

func (s *JSONSource) parseError(err error) error {
	var off int64
	if s.dec != nil {
		off = s.dec.InputOffset()
	}
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return &ParseError{Source: s.name, Offset: off, Err: err}
}

func (s *JSONSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *JSONSource) closeLocked() error {
	s.mode = modeDone
	if s.file != nil {
		f := s.file
		s.file = nil
		return f.Close()
	}
	return nil
}

func (s *JSONSource) Checkpoint() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []byte(strconv.FormatInt(s.offset, 10)), nil
}

func firstSignificantByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
