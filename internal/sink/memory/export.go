package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SessionExport is the root JSON structure.
type SessionExport struct {
	SessionID        string        `json:"sessionId"`
	SessionName      string        `json:"sessionName"`
	ExtensionVersion string        `json:"extensionVersion"`
	TickRate         float64       `json:"tickRate"`
	Bodies           []*BodySeries `json:"bodies"`
}

// exportJSON writes the session data to a JSON file. Caller holds the
// write lock.
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	name := strings.ReplaceAll(b.session.Name, " ", "_")
	name = strings.ReplaceAll(name, ":", "_")
	timestamp := b.session.StartTime.Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", name, timestamp)
	} else {
		filename = fmt.Sprintf("%s_%s.json", name, timestamp)
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := b.writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := b.writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() SessionExport {
	export := SessionExport{
		SessionID:        b.session.ID,
		SessionName:      b.session.Name,
		ExtensionVersion: b.session.ExtensionVersion,
		TickRate:         b.session.TickRate,
		Bodies:           make([]*BodySeries, 0, len(b.bodies)),
	}

	for _, series := range b.bodies {
		export.Bodies = append(export.Bodies, series)
	}
	sort.Slice(export.Bodies, func(i, j int) bool {
		return export.Bodies[i].BodyID < export.Bodies[j].BodyID
	})
	return export
}

func (b *Backend) writeJSON(path string, export SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return nil
}

func (b *Backend) writeGzipJSON(path string, export SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(export); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return gz.Close()
}
