package storage

import (
	"context"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FirmwareVersionSeed is the shape of an optional configs/firmware-versions.yaml
// file used to pre-populate the latest-known-version table at startup.
type FirmwareVersionSeed struct {
	Versions []struct {
		DevicePrefix string `yaml:"device_prefix"`
		Latest       string `yaml:"latest"`
	} `yaml:"versions"`
}

// SeedFirmwareVersions reads path (if it exists) and upserts every entry into
// the firmware_versions table. A missing file is not an error: the seed is
// optional and the table can also be populated at runtime.
func SeedFirmwareVersions(ctx context.Context, repo *Repository, path string, log *zap.Logger) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var seed FirmwareVersionSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return err
	}

	for _, v := range seed.Versions {
		if v.DevicePrefix == "" || v.Latest == "" {
			continue
		}
		if err := repo.UpsertFirmwareVersion(ctx, v.DevicePrefix, v.Latest); err != nil {
			return err
		}
	}
	if log != nil {
		log.Info("loaded firmware version seed", zap.Int("count", len(seed.Versions)), zap.String("path", path))
	}
	return nil
}
