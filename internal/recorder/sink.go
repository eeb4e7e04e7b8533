package recorder

import (
	"encoding/csv"
	"errors"
	"os"
)

// Sink is where a session's rows end up. Open writes the header and must
// fail with an error matching os.ErrExist rather than replace an existing
// file. Close flushes and releases the underlying resource.
type Sink interface {
	Open(path string, schema []string) error
	Append(row []string) error
	Flush() error
	Close() error
}

type csvSink struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSVSink returns a Sink writing one CSV file per session.
func NewCSVSink() Sink {
	return &csvSink{}
}

func (c *csvSink) Open(path string, schema []string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	writer.Write(schema)
	// the header goes to disk right away so an empty trip still has one
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return err
	}

	c.file = file
	c.writer = writer
	return nil
}

func (c *csvSink) Append(row []string) error {
	return c.writer.Write(row)
}

func (c *csvSink) Flush() error {
	c.writer.Flush()
	return c.writer.Error()
}

func (c *csvSink) Close() error {
	if c.file == nil {
		return nil
	}
	flushErr := c.Flush()
	closeErr := c.file.Close()
	c.file = nil
	return errors.Join(flushErr, closeErr)
}
