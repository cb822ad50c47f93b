package logging

import (
	"fmt"
	"io"

	"github.com/Graylog2/go-gelf/gelf"
)

// DialGraylog opens a GELF writer to a Graylog server. The returned
// writer is handed to Options.Graylog.
func DialGraylog(addr string) (io.Writer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial graylog at %s: %w", addr, err)
	}
	return w, nil
}
