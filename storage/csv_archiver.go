package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"estate-scout/models"
)

// CSVArchiver appends raw (unnormalized) listings to a CSV file so every
// run leaves an audit trail of what the sources actually returned.
// It is safe for concurrent use.
type CSVArchiver struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVArchiver opens (or creates) the CSV file at the given path in
// append mode, writing the header row only for a fresh file. Intermediate
// directories are created automatically.
func NewCSVArchiver(path string) (*CSVArchiver, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write([]string{
			"source", "source_id", "title", "raw_price", "raw_address",
			"raw_features", "url", "location", "fetched_at",
		}); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVArchiver{file: f, writer: w}, nil
}

// Archive appends the raw listings of one run.
func (c *CSVArchiver) Archive(listings []models.RawListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		row := []string{
			l.Source,
			l.SourceID,
			l.Title,
			l.RawPrice,
			l.RawAddress,
			l.RawFeatures,
			l.URL,
			l.Location,
			l.FetchedAt.Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVArchiver) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
