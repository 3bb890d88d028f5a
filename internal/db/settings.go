package db

import (
	"errors"
	"strconv"

	"golang.org/x/xerrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	settingSchemaVersion        = "SchemaVersion"
	settingGeocodingDataVersion = "GeocodingDataVersion"
)

// Settings is the full typed view of the key/value settings table.
// Each field maps to one named row; adding a field means adding it to
// both GetSettings and SaveSettings.
type Settings struct {
	SchemaVersion        int
	GeocodingDataVersion string
}

// GetSettings reads every known setting row. Missing rows leave the
// zero value.
func (s *Store) GetSettings() (*Settings, error) {
	var rows []Setting
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, xerrors.Errorf("load settings: %w", err)
	}

	settings := &Settings{}
	for _, row := range rows {
		switch row.Name {
		case settingSchemaVersion:
			v, err := strconv.Atoi(row.Value)
			if err != nil {
				return nil, xerrors.Errorf("setting %s: %w", row.Name, err)
			}
			settings.SchemaVersion = v
		case settingGeocodingDataVersion:
			settings.GeocodingDataVersion = row.Value
		}
	}
	return settings, nil
}

// SaveSettings upserts every known setting row.
func (s *Store) SaveSettings(settings *Settings) error {
	if err := saveSetting(s.db, settingSchemaVersion, settings.SchemaVersion); err != nil {
		return err
	}
	return saveSetting(s.db, settingGeocodingDataVersion, settings.GeocodingDataVersion)
}

// GeocodingDataVersion returns the version marker of the imported
// geolocation dataset, or "" when none was imported yet.
func (s *Store) GeocodingDataVersion() (string, error) {
	var row Setting
	err := s.db.Where("name = ?", settingGeocodingDataVersion).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", xerrors.Errorf("load setting %s: %w", settingGeocodingDataVersion, err)
	}
	return row.Value, nil
}

// SetGeocodingDataVersion records the version marker after a successful
// geolocation data import.
func (s *Store) SetGeocodingDataVersion(version string) error {
	return saveSetting(s.db, settingGeocodingDataVersion, version)
}

func saveSetting(tx *gorm.DB, name string, value any) error {
	var text string
	switch v := value.(type) {
	case string:
		text = v
	case int:
		text = strconv.Itoa(v)
	default:
		return xerrors.Errorf("setting %s: unsupported value type %T", name, value)
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&Setting{Name: name, Value: text}).Error
	if err != nil {
		return xerrors.Errorf("save setting %s: %w", name, err)
	}
	return nil
}
