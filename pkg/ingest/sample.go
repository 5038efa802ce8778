package ingest

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/avapt/assetwatch/pkg/models"
)

// DeviceIndexer is the slice of the store the ingestion paths need.
type DeviceIndexer interface {
	BulkIndex(ctx context.Context, docs []models.Device) (int, error)
}

//go:embed data/sample_devices.json
var sampleDevices []byte

// LoadSampleDevices parses the bundled demo device set.
func LoadSampleDevices() ([]models.Device, error) {
	var devices []models.Device
	if err := json.Unmarshal(sampleDevices, &devices); err != nil {
		return nil, fmt.Errorf("parse sample devices: %w", err)
	}
	return devices, nil
}

// Sample bulk-indexes the bundled demo device set and returns the number
// of documents written. The bundle is the only ingestion path allowed to
// carry lab-flagged records.
func Sample(ctx context.Context, idx DeviceIndexer) (int, error) {
	devices, err := LoadSampleDevices()
	if err != nil {
		return 0, err
	}
	return idx.BulkIndex(ctx, devices)
}
