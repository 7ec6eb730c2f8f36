package filepipeline

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/raffis/importer/pkg/apis/importer/v1beta1"
	"github.com/raffis/importer/pkg/importer"
)

// source reads the records of a file one by one. next returns io.EOF once all records are read.
type source interface {
	next() (importer.Record, error)
	Close() error
}

func openSource(path string, spec v1beta1.Source) (source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}

	switch spec.Format {
	case v1beta1.SourceFormatCSV:
		r := csv.NewReader(f)
		r.Comma = []rune(spec.Delimiter)[0]
		r.TrimLeadingSpace = true
		r.ReuseRecord = true

		header, err := r.Read()
		if errors.Is(err, io.EOF) {
			return &csvSource{file: f, reader: r}, nil
		}

		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to read csv header of %s: %w", path, err)
		}

		return &csvSource{file: f, reader: r, header: append([]string(nil), header...)}, nil
	case v1beta1.SourceFormatJSONL:
		return &jsonlSource{file: f, decoder: json.NewDecoder(f)}, nil
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported source format %q", spec.Format)
	}
}

type csvSource struct {
	file   *os.File
	reader *csv.Reader
	header []string
}

func (s *csvSource) next() (importer.Record, error) {
	if s.header == nil {
		return nil, io.EOF
	}

	row, err := s.reader.Read()
	if err != nil {
		return nil, err
	}

	record := make(importer.Record, len(s.header))
	for i, column := range s.header {
		record[column] = row[i]
	}

	return record, nil
}

func (s *csvSource) Close() error {
	return s.file.Close()
}

type jsonlSource struct {
	file    *os.File
	decoder *json.Decoder
	line    int
}

func (s *jsonlSource) next() (importer.Record, error) {
	s.line++

	var record importer.Record
	if err := s.decoder.Decode(&record); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("invalid json record %d: %w", s.line, err)
	}

	return record, nil
}

func (s *jsonlSource) Close() error {
	return s.file.Close()
}
